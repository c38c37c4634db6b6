package domain

import "time"

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventCabinetExecuted    EventType = "cabinet.executed"
	EventCabinetRolledBack  EventType = "cabinet.rolled_back"
)

// Event is published after the unit of work that produced it has committed.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	OrderID        string      `json:"order_id"`
	CabinetOrderID string      `json:"cabinet_order_id,omitempty"`
	Status         OrderStatus `json:"status,omitempty"`
	Units          int         `json:"units,omitempty"`
	ActorID        string      `json:"actor_id"`
	OccurredAt     time.Time   `json:"occurred_at"`
}
