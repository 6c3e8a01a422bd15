// README: State-transition audit log backed by PostgreSQL. Entries are
// best-effort; a failed insert never blocks or rolls back a transition.
package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"agronet/internal/types"
)

type EventLog struct {
	db *pgxpool.Pool
}

func NewEventLog(db *pgxpool.Pool) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Append(ctx context.Context, e *Event) error {
	_, err := l.db.Exec(ctx, `
        INSERT INTO delivery_state_events (
            delivery_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.DeliveryID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		actorIDPtr(e.ActorID),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append delivery event: %w", err)
	}
	return nil
}

func (l *EventLog) ListByDelivery(ctx context.Context, deliveryID types.ID) ([]Event, error) {
	rows, err := l.db.Query(ctx, `
        SELECT id, delivery_id, from_status, to_status, actor_type, actor_id, created_at
        FROM delivery_state_events
        WHERE delivery_id = $1
        ORDER BY id`, string(deliveryID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func actorIDPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
