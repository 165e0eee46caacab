package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/app/achievement"
	"github.com/credo-app/credo/internal/app/credibility"
	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/app/settlement"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/health"
	"github.com/credo-app/credo/internal/infra/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop()
	outbox := notify.NewOutbox(db)
	catalog := achievement.Default()
	ledger := achievement.NewLedger(db, catalog, outbox, log)
	evaluator := achievement.NewEvaluator(db, ledger, catalog, log)
	checker := health.NewChecker(db, log)
	checker.RunOnce(t.Context())

	srv := NewServer(Deps{
		Credibility: credibility.NewService(db, log,
			credibility.WithEvaluator(evaluator), credibility.WithPublisher(outbox)),
		Settlement: settlement.NewService(db, log, settlement.WithPublisher(outbox)),
		Ledger:     ledger,
		Evaluator:  evaluator,
		Stats:      db,
		Outbox:     outbox,
		Health:     checker,
		Log:        log,
	})
	srv.EnableMetrics()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func openAccount(t *testing.T, ts *httptest.Server, userID string, frequency int) {
	t.Helper()
	resp, _ := do(t, ts, http.MethodPost, "/api/accounts", map[string]interface{}{
		"user_id": userID, "frequency": frequency,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func newBadgeIDs(t *testing.T, body map[string]interface{}) []string {
	t.Helper()
	raw, ok := body["new_badges"].([]interface{})
	require.True(t, ok, "new_badges missing: %v", body)
	ids := make([]string, 0, len(raw))
	for _, b := range raw {
		ids = append(ids, b.(map[string]interface{})["badge_id"].(string))
	}
	return ids
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func TestOpenAccount(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/accounts", map[string]interface{}{"user_id": "u1", "frequency": 3})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, 3.0, body["frequency"])

	resp, _ = do(t, ts, http.MethodPost, "/api/accounts", map[string]interface{}{"user_id": "u1", "frequency": 3})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOpenAccount_Invalid(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []interface{}{
		map[string]interface{}{"user_id": "u1", "frequency": 0},
		map[string]interface{}{"user_id": "u1", "frequency": -1},
		map[string]interface{}{"frequency": 2},
		"{not json",
	} {
		resp, out := do(t, ts, http.MethodPost, "/api/accounts", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %v", body)
		assert.Equal(t, "invalid_request", out["error"].(map[string]interface{})["type"])
	}
}

func TestGetAccount(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodGet, "/api/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	openAccount(t, ts, "u1", 2)
	resp, body := do(t, ts, http.MethodGet, "/api/accounts/u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", body["account"].(map[string]interface{})["user_id"])
	assert.NotEmpty(t, body["week"].(map[string]interface{})["key"])
}

func TestSetFrequency(t *testing.T) {
	ts := newTestServer(t)
	openAccount(t, ts, "u1", 2)

	resp, body := do(t, ts, http.MethodPut, "/api/accounts/u1/frequency", map[string]interface{}{"frequency": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5.0, body["frequency"])

	resp, _ = do(t, ts, http.MethodPut, "/api/accounts/ghost/frequency", map[string]interface{}{"frequency": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── Goals ──────────────────────────────────────────────────────────────────

func TestLogGoal(t *testing.T) {
	ts := newTestServer(t)
	openAccount(t, ts, "u1", 4)

	resp, body := do(t, ts, http.MethodPost, "/api/goals", map[string]interface{}{
		"user_id": "u1", "client_time": time.Now().Add(-72 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 4.0, body["gain"])
	assert.Equal(t, []string{"first_steps"}, newBadgeIDs(t, body))

	resp, body = do(t, ts, http.MethodGet, "/api/accounts/u1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["entries"], 1)

	resp, _ = do(t, ts, http.MethodPost, "/api/goals", map[string]interface{}{"user_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── Badges ─────────────────────────────────────────────────────────────────

func TestPutStats_EvaluatesAllCategories(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPut, "/api/users/u1/stats", map[string]interface{}{
		"alliance_quests_completed": 25,
		"lifetime_mojo_earned":      1200,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"alliance_master", "mojo_millionaire"}, newBadgeIDs(t, body))

	resp, body = do(t, ts, http.MethodGet, "/api/users/u1/badges", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["earned"])
	assert.Equal(t, 14.0, body["total"])

	resp, _ = do(t, ts, http.MethodPut, "/api/users/u1/stats", map[string]interface{}{"battle_quests_won": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t)

	// no snapshot yet: empty, not an error
	resp, body := do(t, ts, http.MethodPost, "/api/users/u1/evaluate/quest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, newBadgeIDs(t, body))

	resp, _ = do(t, ts, http.MethodPost, "/api/users/u1/evaluate/streak", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpeculationResolved(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/speculations/resolved", map[string]interface{}{
		"user_id": "u1", "mojo": 150, "odds": 2.5, "won": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"high_roller"}, newBadgeIDs(t, body))

	resp, _ = do(t, ts, http.MethodPost, "/api/speculations/resolved", map[string]interface{}{
		"user_id": "u1", "mojo": -5, "odds": 2.5, "won": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExternalAward(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/users/u1/badges/early_bird", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["granted"])

	resp, body = do(t, ts, http.MethodPost, "/api/users/u1/badges/early_bird", map[string]interface{}{"progress": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["granted"])

	resp, _ = do(t, ts, http.MethodPost, "/api/users/u1/badges/alliance_master", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/api/users/u1/badges/made_up", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/api/badges", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["badges"], 14)

	resp, body = do(t, ts, http.MethodGet, "/api/badges?category=special", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["badges"], 2)

	resp, _ = do(t, ts, http.MethodGet, "/api/badges?category=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Events ─────────────────────────────────────────────────────────────────

func TestEventsFeed(t *testing.T) {
	ts := newTestServer(t)
	openAccount(t, ts, "u1", 1)
	resp, _ := do(t, ts, http.MethodPost, "/api/goals", map[string]interface{}{"user_id": "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/api/users/u1/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]interface{})
	require.Len(t, events, 2)

	types := []string{}
	for _, e := range events {
		types = append(types, e.(map[string]interface{})["type"].(string))
	}
	assert.ElementsMatch(t, []string{"credibility_changed", "badge_awarded"}, types)

	last := events[1].(map[string]interface{})["seq"].(float64)
	resp, body = do(t, ts, http.MethodGet, fmt.Sprintf("/api/users/u1/events?after=%d", int64(last)), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["events"])

	resp, _ = do(t, ts, http.MethodGet, "/api/users/u1/events?after=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Settlement ─────────────────────────────────────────────────────────────

func TestSettlementRun(t *testing.T) {
	ts := newTestServer(t)
	current := domain.WeekOf(time.Now(), time.UTC)

	resp, _ := do(t, ts, http.MethodPost, "/api/settlement/run?week="+current.Key, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "open week must be rejected")

	resp, _ = do(t, ts, http.MethodPost, "/api/settlement/run?week=nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, ts, http.MethodPost, "/api/settlement/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, current.Previous().Key, body["week"])
}

// ─── Health & Metrics ───────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := do(t, ts, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["checks"], 2)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: x", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrAccountExists, http.StatusConflict},
		{errors.Join(errors.New("a"), domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{domain.ErrFatalInconsistency, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
