package domain

import "fmt"

// MaxCabinetsPerDevice bounds the cabinet index of a selection (0-based).
const MaxCabinetsPerDevice = 3

type CabinetRef struct {
	DeviceID     string `json:"device_id"`
	CabinetIndex int    `json:"cabinet_index"`
}

func (c CabinetRef) String() string {
	return fmt.Sprintf("%s/%d", c.DeviceID, c.CabinetIndex)
}

type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Slot struct {
	Index    int
	Product  Product
	Quantity int
	Capacity int
	ParLevel int
	Version  int // optimistic locking
}

// Shortfall is the number of units needed to bring the slot back to par.
func (s Slot) Shortfall() int {
	if s.Quantity >= s.ParLevel {
		return 0
	}
	return s.ParLevel - s.Quantity
}

// Room is the number of units the slot can still take before reaching capacity.
func (s Slot) Room() int {
	if s.Quantity >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Quantity
}

type Planogram struct {
	Cabinet CabinetRef
	Slots   []Slot
}

func (p Planogram) SlotByIndex(index int) (Slot, bool) {
	for _, s := range p.Slots {
		if s.Index == index {
			return s, true
		}
	}
	return Slot{}, false
}

// Capacity sums slot capacity, ignoring slots that hold the sentinel product.
func (p Planogram) Capacity(sentinelProductID string) int {
	total := 0
	for _, s := range p.Slots {
		if s.Product.ID == sentinelProductID {
			continue
		}
		total += s.Capacity
	}
	return total
}
