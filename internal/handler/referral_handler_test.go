package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/middleware"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/internal/service"
)

type fakeReferralRepo struct {
	referrals  map[string]*models.Referral
	quotaLeft  bool
	lastFilter models.ReferralFilter
}

func (f *fakeReferralRepo) CreateWithQuota(_ context.Context, referral *models.Referral, _ int) (int, error) {
	if !f.quotaLeft {
		return 0, sql.ErrNoRows
	}
	f.store(referral)
	return 6, nil
}

func (f *fakeReferralRepo) Create(_ context.Context, referral *models.Referral) error {
	f.store(referral)
	return nil
}

func (f *fakeReferralRepo) store(referral *models.Referral) {
	if referral.ID == "" {
		referral.ID = "r1"
	}
	if f.referrals == nil {
		f.referrals = map[string]*models.Referral{}
	}
	f.referrals[referral.ID] = referral
}

func (f *fakeReferralRepo) List(_ context.Context, filter models.ReferralFilter) ([]models.Referral, int, error) {
	f.lastFilter = filter
	var out []models.Referral
	for _, r := range f.referrals {
		if filter.TeacherID != "" && r.TeacherID != filter.TeacherID {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (f *fakeReferralRepo) FindByID(_ context.Context, id string) (*models.Referral, error) {
	referral, ok := f.referrals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *referral
	return &clone, nil
}

func (f *fakeReferralRepo) Update(_ context.Context, referral *models.Referral) error {
	f.referrals[referral.ID] = referral
	return nil
}

func (f *fakeReferralRepo) Delete(_ context.Context, id string) error {
	delete(f.referrals, id)
	return nil
}

type fakeReferralUsers struct {
	users map[string]*models.User
}

func (f *fakeReferralUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type fakeQuotaGate struct {
	unlimited   bool
	invalidated []string
}

func (f *fakeQuotaGate) IsUnlimited(string) bool { return f.unlimited }
func (f *fakeQuotaGate) PackageSize() int        { return 10 }
func (f *fakeQuotaGate) Invalidate(_ context.Context, email string) {
	f.invalidated = append(f.invalidated, email)
}

type fakeEnqueuer struct {
	ids []string
}

func (f *fakeEnqueuer) Enqueue(referralID string) error {
	f.ids = append(f.ids, referralID)
	return nil
}

func subscribedTeacher(id, email string) *models.User {
	end := time.Now().Add(30 * 24 * time.Hour)
	return &models.User{
		ID:                  id,
		Email:               email,
		Role:                models.RoleTeacher,
		BaseLimit:           30,
		SubscriptionEndDate: &end,
		Active:              true,
	}
}

func newReferralHandler(repo *fakeReferralRepo, users *fakeReferralUsers, gate *fakeQuotaGate, enqueuer *fakeEnqueuer) *ReferralHandler {
	svc := service.NewReferralService(repo, users, gate, enqueuer, nil, nil, zap.NewNop())
	return NewReferralHandler(svc)
}

func TestReferralHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeReferralRepo{quotaLeft: true}
	gate := &fakeQuotaGate{}
	enqueuer := &fakeEnqueuer{}
	handler := newReferralHandler(repo,
		&fakeReferralUsers{users: map[string]*models.User{"t1": subscribedTeacher("t1", "jane@school.org")}},
		gate, enqueuer)

	body := `{"student_name":"Alex P","concern_type":"academic","description":"Struggling with fractions"}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Email: "jane@school.org", Role: models.RoleTeacher})

	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var envelope quotaEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "Alex P", envelope.Data["student_name"])
	assert.Equal(t, "open", envelope.Data["status"])
	assert.Equal(t, "pending", envelope.Data["suggestions_status"])
	assert.Equal(t, []string{"jane@school.org"}, gate.invalidated)
	assert.Equal(t, []string{"r1"}, enqueuer.ids)
}

func TestReferralHandlerCreateQuotaExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReferralHandler(&fakeReferralRepo{quotaLeft: false},
		&fakeReferralUsers{users: map[string]*models.User{"t1": subscribedTeacher("t1", "jane@school.org")}},
		&fakeQuotaGate{}, &fakeEnqueuer{})

	body := `{"student_name":"Alex P","concern_type":"academic","description":"Struggling with fractions"}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Email: "jane@school.org", Role: models.RoleTeacher})

	handler.Create(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var envelope quotaEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "QUOTA_EXCEEDED", envelope.Error["code"])
}

func TestReferralHandlerCreateInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReferralHandler(&fakeReferralRepo{quotaLeft: true},
		&fakeReferralUsers{users: map[string]*models.User{"t1": subscribedTeacher("t1", "jane@school.org")}},
		&fakeQuotaGate{}, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(`{"student_name":`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReferralHandlerListScopesTeacher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeReferralRepo{referrals: map[string]*models.Referral{
		"r1": {ID: "r1", TeacherID: "t1", StudentName: "Alex P"},
		"r2": {ID: "r2", TeacherID: "t2", StudentName: "Sam Q"},
	}}
	handler := newReferralHandler(repo, &fakeReferralUsers{}, &fakeQuotaGate{}, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/referrals", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", repo.lastFilter.TeacherID)
	var envelope struct {
		Data       []map[string]interface{} `json:"data"`
		Pagination map[string]interface{}   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "Alex P", envelope.Data[0]["student_name"])
	assert.Equal(t, float64(1), envelope.Pagination["total_count"])
}

func TestReferralHandlerGetForbiddenForOtherTeacher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeReferralRepo{referrals: map[string]*models.Referral{
		"r1": {ID: "r1", TeacherID: "t2", StudentName: "Sam Q"},
	}}
	handler := newReferralHandler(repo, &fakeReferralUsers{}, &fakeQuotaGate{}, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/referrals/r1", nil)
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Get(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReferralHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReferralHandler(&fakeReferralRepo{}, &fakeReferralUsers{}, &fakeQuotaGate{}, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/referrals/ghost", nil)
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReferralHandlerSuggestions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	text := "1. Small-group reteach"
	repo := &fakeReferralRepo{referrals: map[string]*models.Referral{
		"r1": {ID: "r1", TeacherID: "t1", StudentName: "Alex P", Suggestions: &text, SuggestionsStatus: models.SuggestionsReady},
	}}
	handler := newReferralHandler(repo, &fakeReferralUsers{}, &fakeQuotaGate{}, &fakeEnqueuer{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/referrals/r1/suggestions", nil)
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Suggestions(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope quotaEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "r1", envelope.Data["referral_id"])
	assert.Equal(t, text, envelope.Data["suggestions"])
	assert.Equal(t, "ready", envelope.Data["suggestions_status"])
}
