package domain

import (
	"encoding/json"
	"time"
)

type ChangeType string

const (
	ChangeCabinetExecuted    ChangeType = "cabinet_executed"
	ChangeCabinetRolledBack  ChangeType = "cabinet_rolled_back"
	ChangeOrderStatusChanged ChangeType = "order_status_changed"
)

// SyncChange is one mutation a client recorded while offline.
type SyncChange struct {
	ID              string          `json:"id"`
	Type            ChangeType      `json:"type"`
	TargetID        string          `json:"target_id"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

type ExecutePayload struct {
	Items []ItemDelivery `json:"items"`
}

type StatusPayload struct {
	Status OrderStatus `json:"status"`
}

type ChangeOutcome string

const (
	OutcomeApplied  ChangeOutcome = "applied"
	OutcomeConflict ChangeOutcome = "conflict"
	OutcomeRejected ChangeOutcome = "rejected"
)

type EntityKind string

const (
	EntityOrder        EntityKind = "order"
	EntityCabinetOrder EntityKind = "cabinet_order"
)

// EntitySnapshot is the server's view of an order or cabinet order at sync time.
type EntitySnapshot struct {
	Kind         EntityKind  `json:"kind"`
	ID           string      `json:"id"`
	Status       OrderStatus `json:"status,omitempty"`
	Executed     bool        `json:"executed"`
	VisitID      string      `json:"visit_id,omitempty"`
	Version      int         `json:"version"`
	LastModified time.Time   `json:"last_modified"`
	ModifiedBy   string      `json:"modified_by"`
}

// ModifiedAfterBy reports whether another actor touched the entity after since.
func (s EntitySnapshot) ModifiedAfterBy(since time.Time, actor string) bool {
	return s.LastModified.After(since) && s.ModifiedBy != actor
}

func OrderSnapshot(o ServiceOrder) EntitySnapshot {
	return EntitySnapshot{
		Kind:         EntityOrder,
		ID:           o.ID,
		Status:       o.Status,
		Executed:     o.AllExecuted(),
		Version:      o.Version,
		LastModified: o.LastModified,
		ModifiedBy:   o.ModifiedBy,
	}
}

func CabinetOrderSnapshot(c ServiceOrderCabinet) EntitySnapshot {
	return EntitySnapshot{
		Kind:         EntityCabinetOrder,
		ID:           c.ID,
		Executed:     c.Executed,
		VisitID:      c.VisitID,
		Version:      c.Version,
		LastModified: c.LastModified,
		ModifiedBy:   c.ModifiedBy,
	}
}

type ChangeResult struct {
	ChangeID string        `json:"change_id"`
	Type     ChangeType    `json:"type"`
	TargetID string        `json:"target_id"`
	Outcome  ChangeOutcome `json:"outcome"`
	Code     ErrorCode     `json:"code,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

type Conflict struct {
	Change SyncChange     `json:"change"`
	Server EntitySnapshot `json:"server"`
}

type SyncResult struct {
	Applied       []ChangeResult   `json:"applied"`
	Rejected      []ChangeResult   `json:"rejected"`
	Conflicts     []Conflict       `json:"conflicts"`
	ServerChanges []EntitySnapshot `json:"server_changes"`
	SyncedAt      time.Time        `json:"synced_at"`
}

type SyncAuditEntry struct {
	ID              string
	OrderID         string
	ChangeID        string
	ChangeType      ChangeType
	TargetID        string
	ActorID         string
	ClientTimestamp time.Time
	Outcome         ChangeOutcome
	Reason          string
	RecordedAt      time.Time
}
