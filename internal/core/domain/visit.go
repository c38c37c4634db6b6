package domain

import "time"

// VisitDurationMinutes is the fixed service time recorded on every visit.
const VisitDurationMinutes = 10

type ServiceVisit struct {
	ID              string
	CabinetOrderID  string
	ExecutedBy      string
	DurationMinutes int
	ExecutedAt      time.Time
	Items           []DeliveredItem
}

func (v ServiceVisit) TotalApplied() int {
	total := 0
	for _, it := range v.Items {
		total += it.Applied
	}
	return total
}

// ItemDelivery is what the driver reports putting into a cabinet.
type ItemDelivery struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DeliveredItem records a delivery as it was applied to the ledger. Applied can be
// lower than Requested when slots hit capacity; Allocations hold the exact per-slot
// deltas that rollback reverses.
type DeliveredItem struct {
	ProductID   string
	Requested   int
	Applied     int
	Allocations []SlotAllocation
}

func (d DeliveredItem) Clamped() int {
	return d.Requested - d.Applied
}

type SlotAllocation struct {
	SlotIndex int
	Quantity  int
}
