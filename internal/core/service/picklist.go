package service

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/rl1809/restock/internal/core/domain"
)

// Aggregator turns cabinet planograms or stored requirements into a pick list.
type Aggregator struct {
	sentinelProductID string
	minutesPerCabinet int
}

func NewAggregator(sentinelProductID string, minutesPerCabinet int) *Aggregator {
	return &Aggregator{
		sentinelProductID: sentinelProductID,
		minutesPerCabinet: minutesPerCabinet,
	}
}

// Aggregate computes replenishment needs: for every slot below par, par minus quantity,
// summed per product. Sentinel slots never contribute.
func (a *Aggregator) Aggregate(planograms []domain.Planogram) domain.PickList {
	needs := make([]domain.CabinetNeeds, 0, len(planograms))
	for _, pg := range planograms {
		byProduct := make(map[string]*domain.ItemNeed)
		var order []string
		for _, slot := range pg.Slots {
			if slot.Product.ID == a.sentinelProductID {
				continue
			}
			short := slot.Shortfall()
			if short == 0 {
				continue
			}
			need, ok := byProduct[slot.Product.ID]
			if !ok {
				need = &domain.ItemNeed{Product: slot.Product}
				byProduct[slot.Product.ID] = need
				order = append(order, slot.Product.ID)
			}
			need.Quantity += short
		}

		cn := domain.CabinetNeeds{Cabinet: pg.Cabinet, Items: make([]domain.ItemNeed, 0, len(order))}
		for _, id := range order {
			cn.Items = append(cn.Items, *byProduct[id])
			cn.TotalUnits += byProduct[id].Quantity
		}
		needs = append(needs, cn)
	}
	return a.Build(needs)
}

// Build groups per-cabinet needs into the category/product pick list. Categories sort
// by name, lines by product name then id, using Unicode collation.
func (a *Aggregator) Build(needs []domain.CabinetNeeds) domain.PickList {
	col := collate.New(language.Und)
	less := func(x, y domain.Product) bool {
		if c := col.CompareString(x.Name, y.Name); c != 0 {
			return c < 0
		}
		return x.ID < y.ID
	}

	lines := make(map[string]*domain.PickLine)
	pl := domain.PickList{
		Categories:       []domain.PickCategory{},
		Cabinets:         make([]domain.CabinetNeeds, 0, len(needs)),
		EstimatedMinutes: a.minutesPerCabinet * len(needs),
	}

	for _, cn := range needs {
		items := make([]domain.ItemNeed, 0, len(cn.Items))
		total := 0
		for _, it := range cn.Items {
			if it.Product.ID == a.sentinelProductID || it.Quantity <= 0 {
				continue
			}
			items = append(items, it)
			total += it.Quantity

			line, ok := lines[it.Product.ID]
			if !ok {
				line = &domain.PickLine{Product: it.Product}
				lines[it.Product.ID] = line
			}
			line.Quantity += it.Quantity
			line.Sources = append(line.Sources, domain.PickSource{Cabinet: cn.Cabinet, Quantity: it.Quantity})
		}
		sort.SliceStable(items, func(i, j int) bool { return less(items[i].Product, items[j].Product) })
		pl.Cabinets = append(pl.Cabinets, domain.CabinetNeeds{Cabinet: cn.Cabinet, Items: items, TotalUnits: total})
		pl.TotalUnits += total
	}

	byCategory := make(map[string][]domain.PickLine)
	for _, line := range lines {
		byCategory[line.Product.Category] = append(byCategory[line.Product.Category], *line)
	}
	for name, ls := range byCategory {
		sort.Slice(ls, func(i, j int) bool { return less(ls[i].Product, ls[j].Product) })
		pl.Categories = append(pl.Categories, domain.PickCategory{Name: name, Lines: ls})
	}
	sort.Slice(pl.Categories, func(i, j int) bool {
		if c := col.CompareString(pl.Categories[i].Name, pl.Categories[j].Name); c != 0 {
			return c < 0
		}
		return pl.Categories[i].Name < pl.Categories[j].Name
	})
	return pl
}
