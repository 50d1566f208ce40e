package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Quota       QuotaConfig
	Import      ImportConfig
	Suggestions SuggestionsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// QuotaConfig governs the monthly support-request allowance.
type QuotaConfig struct {
	DefaultMonthlyLimit    int
	PackageSize            int
	MaxPackagesPerPurchase int
	UnlimitedEmails        []string
	UnlimitedDisplayLimit  int
	CacheTTL               time.Duration
}

// ImportConfig controls the bulk teacher-account importer.
type ImportConfig struct {
	MaxRows         int
	ArchiveDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// SuggestionsConfig configures the background AI intervention-suggestion worker.
type SuggestionsConfig struct {
	Enabled bool
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
	Workers int
	Retries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Quota = QuotaConfig{
		DefaultMonthlyLimit:    v.GetInt("QUOTA_DEFAULT_MONTHLY_LIMIT"),
		PackageSize:            v.GetInt("QUOTA_PACKAGE_SIZE"),
		MaxPackagesPerPurchase: v.GetInt("QUOTA_MAX_PACKAGES_PER_PURCHASE"),
		UnlimitedEmails:        splitAndTrim(strings.ToLower(v.GetString("QUOTA_UNLIMITED_EMAILS"))),
		UnlimitedDisplayLimit:  v.GetInt("QUOTA_UNLIMITED_DISPLAY_LIMIT"),
		CacheTTL:               parseDuration(v.GetString("QUOTA_CACHE_TTL"), 30*time.Second),
	}

	cfg.Import = ImportConfig{
		MaxRows:         v.GetInt("IMPORT_MAX_ROWS"),
		ArchiveDir:      v.GetString("IMPORT_ARCHIVE_DIR"),
		SignedURLSecret: v.GetString("IMPORT_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("IMPORT_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Suggestions = SuggestionsConfig{
		Enabled: v.GetBool("SUGGESTIONS_ENABLED"),
		APIURL:  v.GetString("SUGGESTIONS_API_URL"),
		APIKey:  v.GetString("SUGGESTIONS_API_KEY"),
		Model:   v.GetString("SUGGESTIONS_MODEL"),
		Timeout: parseDuration(v.GetString("SUGGESTIONS_TIMEOUT"), 30*time.Second),
		Workers: v.GetInt("SUGGESTIONS_WORKERS"),
		Retries: v.GetInt("SUGGESTIONS_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classcare_support")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("QUOTA_DEFAULT_MONTHLY_LIMIT", 20)
	v.SetDefault("QUOTA_PACKAGE_SIZE", 10)
	v.SetDefault("QUOTA_MAX_PACKAGES_PER_PURCHASE", 10)
	v.SetDefault("QUOTA_UNLIMITED_EMAILS", "")
	v.SetDefault("QUOTA_UNLIMITED_DISPLAY_LIMIT", 999)
	v.SetDefault("QUOTA_CACHE_TTL", "30s")

	v.SetDefault("IMPORT_MAX_ROWS", 1000)
	v.SetDefault("IMPORT_ARCHIVE_DIR", "./imports")
	v.SetDefault("IMPORT_SIGNED_URL_SECRET", "dev_imports_secret")
	v.SetDefault("IMPORT_SIGNED_URL_TTL", "30m")

	v.SetDefault("SUGGESTIONS_ENABLED", false)
	v.SetDefault("SUGGESTIONS_API_URL", "")
	v.SetDefault("SUGGESTIONS_API_KEY", "")
	v.SetDefault("SUGGESTIONS_MODEL", "gpt-4o-mini")
	v.SetDefault("SUGGESTIONS_TIMEOUT", "30s")
	v.SetDefault("SUGGESTIONS_WORKERS", 2)
	v.SetDefault("SUGGESTIONS_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
