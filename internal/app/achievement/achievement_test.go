package achievement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/credo-app/credo/internal/app/achievement"
	"github.com/credo-app/credo/internal/app/notify"
	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/sqlite"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	db        *sqlite.DB
	ledger    *achievement.Ledger
	evaluator *achievement.Evaluator
	events    *notify.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testDB(t)
	rec := &notify.Recorder{}
	log := zaptest.NewLogger(t)
	ledger := achievement.NewLedger(db, achievement.Default(), rec, log)
	return fixture{
		db:        db,
		ledger:    ledger,
		evaluator: achievement.NewEvaluator(db, ledger, achievement.Default(), log),
		events:    rec,
	}
}

func putStats(t *testing.T, db *sqlite.DB, s domain.UserStats) {
	t.Helper()
	require.NoError(t, db.PutStats(context.Background(), s, time.Now()))
}

func badgeIDs(awards []domain.BadgeAward) []string {
	ids := make([]string, 0, len(awards))
	for _, a := range awards {
		ids = append(ids, a.BadgeID)
	}
	return ids
}

// fakeStats serves a fixed snapshot or error.
type fakeStats struct {
	snap domain.UserStats
	err  error
}

func (f fakeStats) Snapshot(context.Context, string) (domain.UserStats, error) {
	return f.snap, f.err
}

// countingAwarder records calls and grants everything once.
type countingAwarder struct {
	mu      sync.Mutex
	granted map[string]bool
	calls   int
	fail    error
}

func (c *countingAwarder) Award(_ context.Context, userID, badgeID string, _ *float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return false, c.fail
	}
	if c.granted == nil {
		c.granted = map[string]bool{}
	}
	key := userID + "/" + badgeID
	if c.granted[key] {
		return false, nil
	}
	c.granted[key] = true
	return true, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestCatalog_DefaultLoads(t *testing.T) {
	c := achievement.Default()
	assert.Equal(t, 1, c.Version())
	assert.Equal(t, 14, c.Len())

	def, ok := c.Lookup("alliance_master")
	require.True(t, ok)
	assert.Equal(t, domain.CatQuest, def.Category)
	assert.Equal(t, domain.StatAllianceQuests, def.Metric)
	assert.Equal(t, 25.0, def.Threshold)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestCatalog_ByCategorySorted(t *testing.T) {
	quest := achievement.Default().ByCategory(domain.CatQuest)
	require.Len(t, quest, 5)
	for i := 1; i < len(quest); i++ {
		assert.Less(t, quest[i-1].SortOrder, quest[i].SortOrder)
	}
	assert.Equal(t, []string{"alliance_master", "gladiator", "warmonger", "prophet", "peacemaker"},
		badgeIDsOf(quest))
}

func TestCatalog_ByCategoryReturnsCopy(t *testing.T) {
	c := achievement.Default()
	list := c.ByCategory(domain.CatMojo)
	list[0].ID = "mutated"
	assert.Equal(t, "mojo_millionaire", c.ByCategory(domain.CatMojo)[0].ID)
}

func TestCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		defs []domain.BadgeDef
	}{
		{"empty id", []domain.BadgeDef{{Category: domain.CatStreak}}},
		{"unknown category", []domain.BadgeDef{{ID: "a", Category: "bogus"}}},
		{"duplicate id", []domain.BadgeDef{
			{ID: "a", Category: domain.CatStreak, SortOrder: 1},
			{ID: "a", Category: domain.CatTime, SortOrder: 1},
		}},
		{"duplicate sort order", []domain.BadgeDef{
			{ID: "a", Category: domain.CatStreak, SortOrder: 1},
			{ID: "b", Category: domain.CatStreak, SortOrder: 1},
		}},
		{"unknown stat", []domain.BadgeDef{
			{ID: "a", Category: domain.CatQuest, Metric: "nonsense", Threshold: 1},
		}},
		{"zero threshold", []domain.BadgeDef{
			{ID: "a", Category: domain.CatQuest, Metric: domain.StatBattleWins},
		}},
		{"special with stat metric", []domain.BadgeDef{
			{ID: "a", Category: domain.CatSpecial, Metric: domain.StatBattleWins, Threshold: 1},
		}},
		{"streak with metric", []domain.BadgeDef{
			{ID: "a", Category: domain.CatStreak, Metric: domain.StatBattleWins},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := achievement.New(1, tt.defs)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCatalog_ParseTOML(t *testing.T) {
	c, err := achievement.Parse([]byte(`
version = 3

[[badge]]
id = "b"
category = "quest"
sort_order = 2
metric = "battle_quests_won"
threshold = 2

[[badge]]
id = "a"
category = "quest"
sort_order = 1
metric = "battle_quests_won"
threshold = 1
`))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Version())
	assert.Equal(t, []string{"a", "b"}, badgeIDsOf(c.ByCategory(domain.CatQuest)))

	_, err = achievement.Parse([]byte("this is = = not toml"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func badgeIDsOf(defs []domain.BadgeDef) []string {
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	return ids
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestLedger_AwardIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := 25.0
	granted, err := f.ledger.Award(ctx, "u1", "alliance_master", &first)
	require.NoError(t, err)
	assert.True(t, granted)

	original, err := f.db.GetAward(ctx, "u1", "alliance_master")
	require.NoError(t, err)

	second := 40.0
	granted, err = f.ledger.Award(ctx, "u1", "alliance_master", &second)
	require.NoError(t, err)
	assert.False(t, granted)

	after, err := f.db.GetAward(ctx, "u1", "alliance_master")
	require.NoError(t, err)
	assert.Equal(t, original.EarnedAt, after.EarnedAt)
	require.NotNil(t, after.Progress)
	assert.Equal(t, 25.0, *after.Progress)

	assert.Len(t, f.events.OfType(domain.EventBadgeAwarded), 1)
}

func TestLedger_ConcurrentAwardGrantsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := f.ledger.Award(ctx, "u1", "gladiator", nil)
			assert.NoError(t, err)
			if granted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	count, err := f.db.AwardCount(ctx, "u1", "gladiator")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLedger_UnknownBadge(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Award(context.Background(), "u1", "does_not_exist", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownBadge)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_EmptyUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Award(context.Background(), "", "gladiator", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_RecordExternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	granted, err := f.ledger.RecordExternal(ctx, "u1", "streak_week", nil)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = f.ledger.RecordExternal(ctx, "u1", "night_owl", nil)
	require.NoError(t, err)
	assert.True(t, granted)

	_, err = f.ledger.RecordExternal(ctx, "u1", "alliance_master", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	awards, err := f.ledger.Awards(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"streak_week", "night_owl"}, badgeIDs(awards))
}

// ═══════════════════════════════════════════════════════════════════════════
// Evaluator Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestEvaluate_QuestThresholds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	putStats(t, f.db, domain.UserStats{
		UserID:                  "u1",
		AllianceQuestsCompleted: 25,
		BattleQuestsWon:         14,
	})

	awards, err := f.evaluator.Evaluate(ctx, "u1", domain.CatQuest)
	require.NoError(t, err)
	require.Equal(t, []string{"alliance_master"}, badgeIDs(awards))
	require.NotNil(t, awards[0].Progress)
	assert.Equal(t, 25.0, *awards[0].Progress)

	stored, err := f.db.GetAward(ctx, "u1", "alliance_master")
	require.NoError(t, err)
	require.NotNil(t, stored.Progress)
	assert.Equal(t, 25.0, *stored.Progress)

	_, err = f.db.GetAward(ctx, "u1", "gladiator")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluate_SecondPassGrantsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	putStats(t, f.db, domain.UserStats{UserID: "u1", LifetimeMojoEarned: 1500, LifetimeMojoSpentRanks: 500})

	first, err := f.evaluator.Evaluate(ctx, "u1", domain.CatMojo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mojo_millionaire", "big_spender"}, badgeIDs(first))

	second, err := f.evaluator.Evaluate(ctx, "u1", domain.CatMojo)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestEvaluate_MissingSnapshotIsNoop(t *testing.T) {
	f := newFixture(t)
	awards, err := f.evaluator.Evaluate(context.Background(), "ghost", domain.CatQuest)
	assert.NoError(t, err)
	assert.Empty(t, awards)
}

func TestEvaluate_StoreFailureIsNoop(t *testing.T) {
	aw := &countingAwarder{}
	ev := achievement.NewEvaluator(fakeStats{err: domain.ErrStoreUnavailable}, aw, achievement.Default(), zaptest.NewLogger(t))

	awards, err := ev.Evaluate(context.Background(), "u1", domain.CatMilestone)
	assert.NoError(t, err)
	assert.Empty(t, awards)
	assert.Zero(t, aw.calls)
}

func TestEvaluate_NegativeSnapshotIsNoop(t *testing.T) {
	aw := &countingAwarder{}
	ev := achievement.NewEvaluator(fakeStats{snap: domain.UserStats{BattleQuestsWon: -1, AllianceQuestsCompleted: 99}},
		aw, achievement.Default(), zaptest.NewLogger(t))

	awards, err := ev.Evaluate(context.Background(), "u1", domain.CatQuest)
	assert.NoError(t, err)
	assert.Empty(t, awards)
	assert.Zero(t, aw.calls)
}

func TestEvaluate_AwardErrorsJoined(t *testing.T) {
	boom := errors.New("boom")
	aw := &countingAwarder{fail: boom}
	ev := achievement.NewEvaluator(fakeStats{snap: domain.UserStats{LifetimeMojoEarned: 5000, LifetimeMojoSpentRanks: 5000}},
		aw, achievement.Default(), zaptest.NewLogger(t))

	awards, err := ev.Evaluate(context.Background(), "u1", domain.CatMojo)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, awards)
	assert.Equal(t, 2, aw.calls)
}

func TestEvaluate_RejectsNonSnapshotCategory(t *testing.T) {
	f := newFixture(t)
	for _, cat := range []domain.BadgeCategory{domain.CatStreak, domain.CatTime, domain.CatSpecial, "bogus"} {
		_, err := f.evaluator.Evaluate(context.Background(), "u1", cat)
		assert.ErrorIs(t, err, domain.ErrValidation, "category %s", cat)
	}
}

func TestEvaluateAll(t *testing.T) {
	f := newFixture(t)
	putStats(t, f.db, domain.UserStats{
		UserID:              "u1",
		BattleQuestsWon:     15,
		LifetimeMojoEarned:  1000,
		LifetimeGoalsLogged: 1,
	})

	awards, err := f.evaluator.EvaluateAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gladiator", "mojo_millionaire", "first_steps"}, badgeIDs(awards))
}

func TestEvaluateSingleEvent(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.SpeculationOutcome
		want    []string
	}{
		{"high roller", domain.SpeculationOutcome{MojoAmount: 150, Odds: 1.5, Won: true}, []string{"high_roller"}},
		{"underdog", domain.SpeculationOutcome{MojoAmount: 10, Odds: 3.0, Won: true}, []string{"underdog"}},
		{"both", domain.SpeculationOutcome{MojoAmount: 100, Odds: 4, Won: true}, []string{"high_roller", "underdog"}},
		{"short odds", domain.SpeculationOutcome{MojoAmount: 10, Odds: 2.5, Won: true}, []string{}},
		{"lost", domain.SpeculationOutcome{MojoAmount: 500, Odds: 10, Won: false}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			awards, err := f.evaluator.EvaluateSingleEvent(context.Background(), "u1", tt.outcome)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, badgeIDs(awards))
		})
	}
}

func TestEvaluateSingleEvent_ProgressIsEventValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.evaluator.EvaluateSingleEvent(ctx, "u1", domain.SpeculationOutcome{MojoAmount: 150, Won: true})
	require.NoError(t, err)

	stored, err := f.db.GetAward(ctx, "u1", achievement.BadgeHighRoller)
	require.NoError(t, err)
	require.NotNil(t, stored.Progress)
	assert.Equal(t, 150.0, *stored.Progress)
}

func TestEvaluateSingleEvent_RejectsNegative(t *testing.T) {
	f := newFixture(t)
	_, err := f.evaluator.EvaluateSingleEvent(context.Background(), "u1",
		domain.SpeculationOutcome{MojoAmount: -1, Odds: 2, Won: true})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
