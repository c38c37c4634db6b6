package domain

type PickList struct {
	Categories       []PickCategory `json:"categories"`
	Cabinets         []CabinetNeeds `json:"cabinets"`
	TotalUnits       int            `json:"total_units"`
	EstimatedMinutes int            `json:"estimated_minutes"`
}

type PickCategory struct {
	Name  string     `json:"name"`
	Lines []PickLine `json:"lines"`
}

type PickLine struct {
	Product  Product      `json:"product"`
	Quantity int          `json:"quantity"`
	Sources  []PickSource `json:"sources"`
}

// PickSource says where a picked quantity is headed.
type PickSource struct {
	Cabinet  CabinetRef `json:"cabinet"`
	Quantity int        `json:"quantity"`
}

type CabinetNeeds struct {
	Cabinet    CabinetRef `json:"cabinet"`
	Items      []ItemNeed `json:"items"`
	TotalUnits int        `json:"total_units"`
}

type ItemNeed struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Quantities flattens the pick list to product id -> total units.
func (p PickList) Quantities() map[string]int {
	out := make(map[string]int)
	for _, c := range p.Categories {
		for _, l := range c.Lines {
			out[l.Product.ID] += l.Quantity
		}
	}
	return out
}
