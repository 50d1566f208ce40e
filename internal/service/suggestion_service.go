package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/pkg/config"
	"github.com/classcare/support-api/pkg/jobs"
)

// Completer produces intervention text for a prompt. The AI completion API
// behind it is an external collaborator; only this thin client lives here.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HTTPCompleter calls a chat-completion style HTTP API.
type HTTPCompleter struct {
	client *http.Client
	apiURL string
	apiKey string
	model  string
}

// NewHTTPCompleter builds a completer against the configured endpoint.
func NewHTTPCompleter(cfg config.SuggestionsConfig) *HTTPCompleter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCompleter{
		client: &http.Client{Timeout: timeout},
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt and returns the first choice's content.
func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []completionMessage{
			{Role: "system", Content: "You are an experienced K-12 student support specialist. Suggest practical, classroom-ready interventions."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion api: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion api returned %d", resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("completion api returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

type suggestionReferralRepository interface {
	FindByID(ctx context.Context, id string) (*models.Referral, error)
	UpdateSuggestions(ctx context.Context, id string, suggestions *string, status string) error
}

// SuggestionService generates intervention suggestions for referrals in the
// background, retrying transient failures through the job queue.
type SuggestionService struct {
	repo      suggestionReferralRepository
	completer Completer
	logger    *zap.Logger
	retries   int
	queue     *jobs.Queue
}

// NewSuggestionService wires the worker queue. Call Start before enqueuing.
func NewSuggestionService(repo suggestionReferralRepository, completer Completer, logger *zap.Logger, cfg config.SuggestionsConfig) *SuggestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	s := &SuggestionService{repo: repo, completer: completer, logger: logger, retries: retries}
	s.queue = jobs.NewQueue("suggestions", s.process, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: retries,
		Logger:     logger,
	})
	return s
}

// Start launches the background workers.
func (s *SuggestionService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *SuggestionService) Stop() {
	s.queue.Stop()
}

// Enqueue schedules suggestion generation for the referral.
func (s *SuggestionService) Enqueue(referralID string) error {
	return s.queue.Enqueue(jobs.Job{ID: referralID, Type: "generate_suggestions", Payload: referralID})
}

func (s *SuggestionService) process(ctx context.Context, job jobs.Job) error {
	referralID, _ := job.Payload.(string)
	if referralID == "" {
		referralID = job.ID
	}

	referral, err := s.repo.FindByID(ctx, referralID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Referral deleted before the worker got to it; nothing to do.
			return nil
		}
		return s.fail(ctx, referralID, job, fmt.Errorf("load referral: %w", err))
	}

	prompt := buildSuggestionPrompt(referral)
	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return s.fail(ctx, referralID, job, err)
	}

	if err := s.repo.UpdateSuggestions(ctx, referralID, &text, models.SuggestionsReady); err != nil {
		return s.fail(ctx, referralID, job, fmt.Errorf("store suggestions: %w", err))
	}
	return nil
}

// fail marks the referral failed once retries are exhausted; otherwise the
// error propagates so the queue retries.
func (s *SuggestionService) fail(ctx context.Context, referralID string, job jobs.Job, err error) error {
	if job.Attempt >= s.retries {
		if updateErr := s.repo.UpdateSuggestions(ctx, referralID, nil, models.SuggestionsFailed); updateErr != nil {
			s.logger.Warn("failed to mark suggestions failed", zap.String("referral_id", referralID), zap.Error(updateErr))
		}
		s.logger.Error("suggestion generation exhausted retries", zap.String("referral_id", referralID), zap.Error(err))
		return nil
	}
	return err
}

func buildSuggestionPrompt(referral *models.Referral) string {
	grade := "unspecified"
	if referral.GradeLevel != nil && *referral.GradeLevel != "" {
		grade = *referral.GradeLevel
	}
	return fmt.Sprintf(
		"A teacher filed a %s severity %s concern for a student in grade %s.\n\nConcern description:\n%s\n\nList 3-5 concrete intervention strategies the teacher can try, with a short rationale for each.",
		referral.Severity, referral.ConcernType, grade, referral.Description,
	)
}
