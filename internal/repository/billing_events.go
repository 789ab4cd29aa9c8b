package repository

import (
	"context"
	"encoding/json"
	"time"
)

// BillingEvent is the billing_events ledger row. Append-only.
type BillingEvent struct {
	EventID     string
	EventType   string
	Payload     json.RawMessage
	ProcessedAt time.Time
}

// insertBillingEvent appends a provider event to the ledger. The unique
// constraint on event_id is the de-duplication mechanism itself: the insert
// is attempted before any business mutation, never after a lookup.
const insertBillingEvent = `INSERT INTO billing_events (event_id, event_type, payload)
VALUES ($1, $2, $3)`

// InsertBillingEventParams are the parameters for InsertBillingEvent.
type InsertBillingEventParams struct {
	EventID   string
	EventType string
	Payload   json.RawMessage
}

// InsertBillingEvent records an inbound event. A unique violation
// (IsUniqueViolation) means the event ID has already been processed.
func (q *Queries) InsertBillingEvent(ctx context.Context, arg InsertBillingEventParams) error {
	_, err := q.db.ExecContext(ctx, insertBillingEvent, arg.EventID, arg.EventType, arg.Payload)
	return err
}

const getBillingEvent = `SELECT event_id, event_type, payload, processed_at
FROM billing_events WHERE event_id = $1`

// GetBillingEvent reads a ledger row, for diagnostics and tests.
func (q *Queries) GetBillingEvent(ctx context.Context, eventID string) (BillingEvent, error) {
	var e BillingEvent
	err := q.db.QueryRowContext(ctx, getBillingEvent, eventID).
		Scan(&e.EventID, &e.EventType, &e.Payload, &e.ProcessedAt)
	return e, err
}
