package order

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

// StatusChangedEvent is emitted after a status-changing commit. Publishing
// is best-effort: a broker failure never rolls the transition back.
type StatusChangedEvent struct {
	OrderID    uuid.UUID     `json:"order_id"`
	From       OrderStatus   `json:"from_status"`
	To         OrderStatus   `json:"to_status"`
	HandlerID  uuid.NullUUID `json:"handler_id"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

// NoopPublisher is wired when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(_ context.Context, _ StatusChangedEvent) error {
	return nil
}
