package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/app/settlement"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/sqlite"
)

// ─── Request Types ──────────────────────────────────────────────────────────

type openAccountRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Frequency int    `json:"frequency" validate:"gt=0"`
}

type frequencyRequest struct {
	Frequency int `json:"frequency" validate:"gt=0"`
}

type logGoalRequest struct {
	UserID     string     `json:"user_id" validate:"required,max=128"`
	ClientTime *time.Time `json:"client_time,omitempty"`
}

type speculationRequest struct {
	UserID string  `json:"user_id" validate:"required,max=128"`
	Mojo   float64 `json:"mojo" validate:"gte=0"`
	Odds   float64 `json:"odds" validate:"gte=0"`
	Won    bool    `json:"won"`
}

type statsRequest struct {
	AllianceQuestsCompleted   int64 `json:"alliance_quests_completed" validate:"gte=0"`
	BattleQuestsWon           int64 `json:"battle_quests_won" validate:"gte=0"`
	SpeculationWinsFor        int64 `json:"speculation_wins_for" validate:"gte=0"`
	SpeculationWinsAgainst    int64 `json:"speculation_wins_against" validate:"gte=0"`
	SpeculationQuestsResolved int64 `json:"speculation_quests_resolved" validate:"gte=0"`
	LifetimeMojoEarned        int64 `json:"lifetime_mojo_earned" validate:"gte=0"`
	LifetimeMojoSpentRanks    int64 `json:"lifetime_mojo_spent_ranks" validate:"gte=0"`
	LifetimeGoalsLogged       int64 `json:"lifetime_goals_logged" validate:"gte=0"`
}

type externalAwardRequest struct {
	Progress *float64 `json:"progress,omitempty" validate:"omitempty,gte=0"`
}

// decode reads a JSON body into v and validates it. An empty body is allowed
// only when optional is true.
func (s *Server) decode(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return n, nil
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.Health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.Health.Statuses(),
	})
}

// ─── Accounts & Goals ───────────────────────────────────────────────────────

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	acct, err := s.Credibility.OpenAccount(r.Context(), req.UserID, req.Frequency)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Credibility.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": acct,
		"week":    s.Credibility.CurrentWeek(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	entries, err := s.Credibility.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleSetFrequency(w http.ResponseWriter, r *http.Request) {
	var req frequencyRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	acct, err := s.Credibility.SetFrequency(r.Context(), chi.URLParam(r, "userID"), req.Frequency)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleLogGoal(w http.ResponseWriter, r *http.Request) {
	var req logGoalRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var clientTime time.Time
	if req.ClientTime != nil {
		clientTime = *req.ClientTime
	}
	result, err := s.Credibility.LogGoal(r.Context(), req.UserID, clientTime)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ─── Badges ─────────────────────────────────────────────────────────────────

func (s *Server) handleSpeculationResolved(w http.ResponseWriter, r *http.Request) {
	var req speculationRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	awards, err := s.Evaluator.EvaluateSingleEvent(r.Context(), req.UserID, domain.SpeculationOutcome{
		MojoAmount: req.Mojo,
		Odds:       req.Odds,
		Won:        req.Won,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBadgesResponse(awards))
}

func (s *Server) handlePutStats(w http.ResponseWriter, r *http.Request) {
	var req statsRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	stats := domain.UserStats{
		UserID:                    userID,
		AllianceQuestsCompleted:   req.AllianceQuestsCompleted,
		BattleQuestsWon:           req.BattleQuestsWon,
		SpeculationWinsFor:        req.SpeculationWinsFor,
		SpeculationWinsAgainst:    req.SpeculationWinsAgainst,
		SpeculationQuestsResolved: req.SpeculationQuestsResolved,
		LifetimeMojoEarned:        req.LifetimeMojoEarned,
		LifetimeMojoSpentRanks:    req.LifetimeMojoSpentRanks,
		LifetimeGoalsLogged:       req.LifetimeGoalsLogged,
	}
	if err := s.Stats.PutStats(r.Context(), stats, time.Now()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// New counters may cross thresholds in any snapshot-driven category.
	awards, err := s.Evaluator.EvaluateAll(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBadgesResponse(awards))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Stats.Snapshot(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	category := domain.BadgeCategory(chi.URLParam(r, "category"))
	awards, err := s.Evaluator.Evaluate(r.Context(), chi.URLParam(r, "userID"), category)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBadgesResponse(awards))
}

func (s *Server) handleExternalAward(w http.ResponseWriter, r *http.Request) {
	var req externalAwardRequest
	if err := s.decode(r, &req, true); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	userID, badgeID := chi.URLParam(r, "userID"), chi.URLParam(r, "badgeID")
	granted, err := s.Ledger.RecordExternal(r.Context(), userID, badgeID, req.Progress)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if granted {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"user_id":  userID,
		"badge_id": badgeID,
		"granted":  granted,
	})
}

// badgeView is an earned badge with its catalog entry.
type badgeView struct {
	domain.BadgeDef
	EarnedAt time.Time `json:"earned_at"`
	Progress *float64  `json:"progress,omitempty"`
}

func (s *Server) handleUserBadges(w http.ResponseWriter, r *http.Request) {
	awards, err := s.Ledger.Awards(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	catalog := s.Ledger.Catalog()
	views := make([]badgeView, 0, len(awards))
	for _, a := range awards {
		def, ok := catalog.Lookup(a.BadgeID)
		if !ok {
			// retired from the catalog; the award itself stands
			def = domain.BadgeDef{ID: a.BadgeID, Name: a.BadgeID}
		}
		views = append(views, badgeView{BadgeDef: def, EarnedAt: a.EarnedAt, Progress: a.Progress})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"badges": views,
		"earned": len(views),
		"total":  catalog.Len(),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := s.Ledger.Catalog()
	defs := catalog.All()
	if cat := r.URL.Query().Get("category"); cat != "" {
		if !domain.BadgeCategory(cat).Known() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", cat))
			return
		}
		defs = catalog.ByCategory(domain.BadgeCategory(cat))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": catalog.Version(),
		"badges":  defs,
	})
}

func newBadgesResponse(awards []domain.BadgeAward) map[string]interface{} {
	if awards == nil {
		awards = []domain.BadgeAward{}
	}
	return map[string]interface{}{"new_badges": awards}
}

// ─── Events ─────────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after", 0)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	events := []sqlite.StoredEvent{}
	if s.Outbox != nil {
		got, err := s.Outbox.Since(r.Context(), chi.URLParam(r, "userID"), int64(after), limit)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if got != nil {
			events = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ─── Settlement ─────────────────────────────────────────────────────────────

func (s *Server) handleSettlementRun(w http.ResponseWriter, r *http.Request) {
	var (
		report settlement.Report
		err    error
	)
	if key := r.URL.Query().Get("week"); key != "" {
		week, perr := s.Settlement.ParseWeek(key)
		if perr != nil {
			s.writeDomainError(w, r, perr)
			return
		}
		report, err = s.Settlement.SettleWeek(r.Context(), week)
	} else {
		report, err = s.Settlement.SettleDue(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.Log.Info("manual settlement run",
		zap.String("week", report.Week),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed))
	writeJSON(w, http.StatusOK, report)
}
