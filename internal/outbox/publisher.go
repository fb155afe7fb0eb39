package outbox

import (
	"context"

	"identity_backend/internal/events"
	"identity_backend/platform/logger"
)

// Publisher implements events.Publisher by writing events to the outbox
// table instead of dispatching them inline. Publish stays fire-and-forget
// for callers; a storage failure is logged, never propagated into the
// domain operation that already committed.
type Publisher struct {
	repo *Repository
	log  *logger.Logger
}

func NewPublisher(repo *Repository, log *logger.Logger) *Publisher {
	return &Publisher{repo: repo, log: log}
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) {
	// The domain mutation already committed; losing its context must not
	// lose the announcement.
	ctx = context.WithoutCancel(ctx)
	if _, err := p.repo.Insert(ctx, event.EventName(), event, event.OccurredAt()); err != nil {
		p.log.Error("failed to store outbox event",
			"event", event.EventName(),
			"error", err,
		)
	}
}

var _ events.Publisher = (*Publisher)(nil)

// Dispatcher drains pending outbox records onto the event bus.
type Dispatcher struct {
	repo *Repository
	bus  events.Bus
	log  *logger.Logger
}

func NewDispatcher(repo *Repository, bus events.Bus, log *logger.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, bus: bus, log: log}
}

// DispatchDue claims up to limit pending records and publishes each to the
// bus as an events.Stored envelope, marking the row with the result.
func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) error {
	records, err := d.repo.ClaimPending(ctx, limit)
	if err != nil {
		return err
	}

	for _, rec := range records {
		stored := events.Stored{
			BaseEvent: events.BaseEvent{Timestamp: rec.OccurredAt},
			Name:      rec.EventName,
			Payload:   rec.Payload,
		}
		if err := d.bus.PublishSync(ctx, stored); err != nil {
			d.log.Error("outbox dispatch failed", "event", rec.EventName, "id", rec.ID, "error", err)
			if markErr := d.repo.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				d.log.DatabaseError("outbox mark failed", markErr)
			}
			continue
		}
		if err := d.repo.MarkSucceeded(ctx, rec.ID); err != nil {
			d.log.DatabaseError("outbox mark succeeded", err)
		}
	}
	return nil
}
