// Package notify publishes change notifications after committed mutations.
// Delivery is best-effort: a failed publish is logged and counted, never
// rolled back into the mutation that caused it.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credo-app/credo/internal/domain"
	"github.com/credo-app/credo/internal/infra/metrics"
	"github.com/credo-app/credo/internal/infra/sqlite"
)

// NewEvent stamps a fresh event id and creation time.
func NewEvent(typ domain.EventType, userID string, at time.Time) domain.Event {
	return domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		CreatedAt: at,
	}
}

// Emit publishes e and swallows the error after logging it.
func Emit(ctx context.Context, pub domain.Publisher, log *zap.Logger, e domain.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, e); err != nil {
		metrics.EventsPublished.WithLabelValues(string(e.Type), "failed").Inc()
		log.Warn("publish event failed",
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.String("user_id", e.UserID),
			zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(e.Type), "ok").Inc()
}

// ─── Publishers ─────────────────────────────────────────────────────────────

// Outbox stores events in the SQLite events table for clients to poll.
type Outbox struct {
	db *sqlite.DB
}

// NewOutbox creates an outbox publisher.
func NewOutbox(db *sqlite.DB) *Outbox {
	return &Outbox{db: db}
}

// Publish appends e to the outbox.
func (o *Outbox) Publish(ctx context.Context, e domain.Event) error {
	return o.db.InsertEvent(ctx, e)
}

// Since returns a user's events after the given sequence number.
func (o *Outbox) Since(ctx context.Context, userID string, after int64, limit int) ([]sqlite.StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return o.db.EventsAfter(ctx, userID, after, limit)
}

// Multi fans an event out to every publisher, joining their errors.
type Multi []domain.Publisher

// Publish delivers e to all publishers even if some fail.
func (m Multi) Publish(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish records e.
func (r *Recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType returns recorded events of one type.
func (r *Recorder) OfType(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
