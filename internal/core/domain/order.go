package domain

import "time"

type ServiceOrder struct {
	ID               string
	RouteID          string
	CreatedBy        string
	DriverID         string
	Status           OrderStatus
	TotalUnits       int
	EstimatedMinutes int
	Version          int
	CreatedAt        time.Time
	LastModified     time.Time
	ModifiedBy       string
	Cabinets         []ServiceOrderCabinet
}

// ExecutedCount returns how many child cabinet orders are executed.
func (o ServiceOrder) ExecutedCount() int {
	n := 0
	for _, c := range o.Cabinets {
		if c.Executed {
			n++
		}
	}
	return n
}

func (o ServiceOrder) AllExecuted() bool {
	return len(o.Cabinets) > 0 && o.ExecutedCount() == len(o.Cabinets)
}

func (o ServiceOrder) CabinetByID(id string) (ServiceOrderCabinet, bool) {
	for _, c := range o.Cabinets {
		if c.ID == id {
			return c, true
		}
	}
	return ServiceOrderCabinet{}, false
}

type ServiceOrderCabinet struct {
	ID           string
	OrderID      string
	Cabinet      CabinetRef
	Position     int
	Executed     bool
	VisitID      string
	Items        []ServiceOrderItem
	Version      int
	LastModified time.Time
	ModifiedBy   string

	// Visit is populated by repository reads when the cabinet order is executed.
	Visit *ServiceVisit
}

func (c ServiceOrderCabinet) TotalNeeded() int {
	total := 0
	for _, it := range c.Items {
		total += it.QuantityNeeded
	}
	return total
}

type ServiceOrderItem struct {
	ProductID      string
	QuantityNeeded int
}
