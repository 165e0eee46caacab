package sqlite

import (
	"context"
	"database/sql"

	"github.com/credo-app/credo/internal/domain"
)

// ─── Event Outbox ───────────────────────────────────────────────────────────

// StoredEvent is an outbox row with its delivery sequence number.
type StoredEvent struct {
	Seq int64 `json:"seq"`
	domain.Event
}

// InsertEvent appends an event to the outbox. Re-inserting the same event id
// is a no-op.
func (d *DB) InsertEvent(ctx context.Context, e domain.Event) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO events (id, type, user_id, badge_id, week, delta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, string(e.Type), e.UserID, nullStr(e.BadgeID), nullStr(e.Week), e.Delta, e.CreatedAt.Unix(),
	)
	return storeErr("insert event", err)
}

// EventsAfter returns a user's events with seq > after, oldest first.
func (d *DB) EventsAfter(ctx context.Context, userID string, after int64, limit int) ([]StoredEvent, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT seq, id, type, user_id, badge_id, week, delta, created_at
		 FROM events WHERE user_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		userID, after, limit,
	)
	if err != nil {
		return nil, storeErr("select events", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			e           StoredEvent
			badge, week sql.NullString
			delta       sql.NullFloat64
			ts          int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.UserID, &badge, &week, &delta, &ts); err != nil {
			return nil, storeErr("scan event", err)
		}
		e.BadgeID = badge.String
		e.Week = week.String
		e.Delta = delta.Float64
		e.CreatedAt = fromUnix(ts)
		events = append(events, e)
	}
	return events, storeErr("iterate events", rows.Err())
}
