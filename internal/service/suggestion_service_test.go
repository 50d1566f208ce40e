package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/pkg/config"
	"github.com/classcare/support-api/pkg/jobs"
)

type mockSuggestionRepo struct {
	mu        sync.Mutex
	referrals map[string]*models.Referral
	updates   []suggestionUpdate
	findErr   error
	updateErr error
}

type suggestionUpdate struct {
	id     string
	text   *string
	status string
}

func (m *mockSuggestionRepo) FindByID(_ context.Context, id string) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	referral, ok := m.referrals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return referral, nil
}

func (m *mockSuggestionRepo) UpdateSuggestions(_ context.Context, id string, suggestions *string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates = append(m.updates, suggestionUpdate{id: id, text: suggestions, status: status})
	return nil
}

func (m *mockSuggestionRepo) lastUpdate(t *testing.T) suggestionUpdate {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.updates)
	return m.updates[len(m.updates)-1]
}

type mockCompleter struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (m *mockCompleter) Complete(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func suggestionReferral() *models.Referral {
	grade := "5"
	return &models.Referral{
		ID:                "r1",
		TeacherID:         "t1",
		StudentName:       "Sam Porter",
		GradeLevel:        &grade,
		ConcernType:       models.ConcernBehavioral,
		Description:       "Frequent outbursts during group work.",
		Severity:          "high",
		Status:            models.ReferralStatusOpen,
		SuggestionsStatus: models.SuggestionsPending,
	}
}

func newSuggestionService(repo *mockSuggestionRepo, completer Completer, retries int) *SuggestionService {
	return NewSuggestionService(repo, completer, zap.NewNop(), config.SuggestionsConfig{
		Enabled: true,
		Retries: retries,
	})
}

func TestSuggestionProcessStoresResult(t *testing.T) {
	repo := &mockSuggestionRepo{referrals: map[string]*models.Referral{"r1": suggestionReferral()}}
	completer := &mockCompleter{text: "1. Seat the student near the front.\n2. Agree on a quiet signal."}
	svc := newSuggestionService(repo, completer, 3)

	err := svc.process(context.Background(), jobs.Job{ID: "r1", Payload: "r1"})
	require.NoError(t, err)

	update := repo.lastUpdate(t)
	assert.Equal(t, "r1", update.id)
	assert.Equal(t, models.SuggestionsReady, update.status)
	require.NotNil(t, update.text)
	assert.Contains(t, *update.text, "quiet signal")
}

func TestSuggestionProcessDeletedReferral(t *testing.T) {
	repo := &mockSuggestionRepo{referrals: map[string]*models.Referral{}}
	completer := &mockCompleter{text: "unused"}
	svc := newSuggestionService(repo, completer, 3)

	err := svc.process(context.Background(), jobs.Job{ID: "gone", Payload: "gone"})
	require.NoError(t, err)

	assert.Zero(t, completer.calls)
	assert.Empty(t, repo.updates)
}

func TestSuggestionProcessRetriesTransientError(t *testing.T) {
	repo := &mockSuggestionRepo{referrals: map[string]*models.Referral{"r1": suggestionReferral()}}
	completer := &mockCompleter{err: errors.New("upstream timeout")}
	svc := newSuggestionService(repo, completer, 3)

	err := svc.process(context.Background(), jobs.Job{ID: "r1", Payload: "r1", Attempt: 1})
	require.Error(t, err)
	assert.Empty(t, repo.updates)
}

func TestSuggestionProcessExhaustedRetriesMarksFailed(t *testing.T) {
	repo := &mockSuggestionRepo{referrals: map[string]*models.Referral{"r1": suggestionReferral()}}
	completer := &mockCompleter{err: errors.New("upstream timeout")}
	svc := newSuggestionService(repo, completer, 3)

	err := svc.process(context.Background(), jobs.Job{ID: "r1", Payload: "r1", Attempt: 3})
	require.NoError(t, err)

	update := repo.lastUpdate(t)
	assert.Equal(t, models.SuggestionsFailed, update.status)
	assert.Nil(t, update.text)
}

func TestSuggestionPromptIncludesReferralDetails(t *testing.T) {
	prompt := buildSuggestionPrompt(suggestionReferral())
	assert.Contains(t, prompt, "high severity behavioral concern")
	assert.Contains(t, prompt, "grade 5")
	assert.Contains(t, prompt, "Frequent outbursts during group work.")
}

func TestSuggestionPromptMissingGrade(t *testing.T) {
	referral := suggestionReferral()
	referral.GradeLevel = nil
	prompt := buildSuggestionPrompt(referral)
	assert.Contains(t, prompt, "grade unspecified")
}

func TestHTTPCompleterParsesResponse(t *testing.T) {
	var gotAuth string
	var gotReq completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Try a daily check-in."}},
			},
		})
	}))
	defer server.Close()

	completer := NewHTTPCompleter(config.SuggestionsConfig{
		APIURL:  server.URL,
		APIKey:  "secret-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})

	text, err := completer.Complete(context.Background(), "student needs help")
	require.NoError(t, err)
	assert.Equal(t, "Try a daily check-in.", text)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "student needs help", gotReq.Messages[1].Content)
}

func TestHTTPCompleterUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	completer := NewHTTPCompleter(config.SuggestionsConfig{APIURL: server.URL})
	_, err := completer.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPCompleterEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	completer := NewHTTPCompleter(config.SuggestionsConfig{APIURL: server.URL})
	_, err := completer.Complete(context.Background(), "prompt")
	require.Error(t, err)
}
