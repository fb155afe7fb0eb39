// Package outbox provides durable event publishing. Domain services write
// events to a control-plane table; a dispatcher drains due rows onto the
// event bus so announcements survive process crashes.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one stored event awaiting dispatch.
type Record struct {
	ID         uuid.UUID
	EventName  string
	Payload    json.RawMessage
	OccurredAt time.Time
	Status     Status
	Attempts   int
}

// Repository persists outbox records in the control-plane database.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores an event for later dispatch.
func (r *Repository) Insert(ctx context.Context, eventName string, payload any, occurredAt time.Time) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO event_outbox (id, event_name, payload, occurred_at, status, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, id, eventName, body, occurredAt, StatusPending)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimPending marks up to limit pending records as in-flight and returns
// them. FOR UPDATE SKIP LOCKED keeps concurrent dispatchers from claiming
// the same rows.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE event_outbox
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM event_outbox
			WHERE status = $1
			ORDER BY occurred_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, event_name, payload, occurred_at, status, attempts
	`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventName, &rec.Payload, &rec.OccurredAt, &rec.Status, &rec.Attempts); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSucceeded records a successful dispatch.
func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE event_outbox SET status = $2 WHERE id = $1
	`, id, StatusSucceeded)
	return err
}

// MarkFailed records a dispatch failure with the error for operators.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE event_outbox SET status = $2, last_error = $3 WHERE id = $1
	`, id, StatusFailed, reason)
	return err
}
