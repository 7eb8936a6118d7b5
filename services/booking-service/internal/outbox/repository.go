package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
)

// Repository stores events in public.outbox_events, which every tenant
// namespace shares.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert must run on the transaction that performs the state change.
func Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO public.outbox_events (event_id, tenant, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.EventID, evt.Tenant, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate)
	return err
}

// ProcessUnpublished locks up to limit pending events, hands them to fn and
// marks them published when fn succeeds. Concurrent publishers skip rows
// another publisher holds.
func (r *Repository) ProcessUnpublished(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	events, err := fetchUnpublished(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}
	if err := fn(ctx, events); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE public.outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, err
	}
	return len(events), tx.Commit(ctx)
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, tenant, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM public.outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventID, &e.Tenant, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.Traceparent, &e.Tracestate, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
