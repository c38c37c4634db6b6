package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

const fillRatePlaces = 4

// Projections builds read models. It never writes to the store.
type Projections struct {
	uow        *unitOfWork
	devices    port.DeviceDirectory
	cache      port.CacheRepository
	aggregator *Aggregator
	sentinel   string
	logger     *zap.Logger
	group      singleflight.Group
}

type OrderDetail struct {
	ID               string             `json:"id"`
	RouteID          string             `json:"route_id"`
	DriverID         string             `json:"driver_id"`
	CreatedBy        string             `json:"created_by"`
	Status           domain.OrderStatus `json:"status"`
	TotalUnits       int                `json:"total_units"`
	EstimatedMinutes int                `json:"estimated_minutes"`
	Version          int                `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	LastModified     time.Time          `json:"last_modified"`
	ModifiedBy       string             `json:"modified_by"`
	FillRate         decimal.Decimal    `json:"fill_rate"`
	Cabinets         []CabinetDetail    `json:"cabinets"`
}

type CabinetDetail struct {
	ID           string            `json:"id"`
	Cabinet      domain.CabinetRef `json:"cabinet"`
	Device       domain.Device     `json:"device"`
	Position     int               `json:"position"`
	Executed     bool              `json:"executed"`
	Items        []ItemDetail      `json:"items"`
	Visit        *VisitDetail      `json:"visit,omitempty"`
	Capacity     int               `json:"capacity"`
	Delivered    int               `json:"delivered"`
	FillRate     decimal.Decimal   `json:"fill_rate"`
	LastModified time.Time         `json:"last_modified"`
	ModifiedBy   string            `json:"modified_by"`
}

type ItemDetail struct {
	Product        domain.Product `json:"product"`
	QuantityNeeded int            `json:"quantity_needed"`
}

type VisitDetail struct {
	ID              string              `json:"id"`
	ExecutedBy      string              `json:"executed_by"`
	ExecutedAt      time.Time           `json:"executed_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	Items           []DeliveredItemView `json:"items"`
}

type DeliveredItemView struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Applied   int    `json:"applied"`
	Clamped   int    `json:"clamped"`
}

type OrderSummary struct {
	ID               string             `json:"id"`
	RouteID          string             `json:"route_id"`
	DriverID         string             `json:"driver_id"`
	Status           domain.OrderStatus `json:"status"`
	TotalUnits       int                `json:"total_units"`
	EstimatedMinutes int                `json:"estimated_minutes"`
	CabinetCount     int                `json:"cabinet_count"`
	ExecutedCount    int                `json:"executed_count"`
	FillRate         decimal.Decimal    `json:"fill_rate"`
	CreatedAt        time.Time          `json:"created_at"`
	LastModified     time.Time          `json:"last_modified"`
}

type OrderList struct {
	Orders []OrderSummary `json:"orders"`
	// AverageFillRate covers pending and in-progress orders regardless of the filter.
	AverageFillRate decimal.Decimal `json:"average_fill_rate"`
}

func (p *Projections) OrderDetail(ctx context.Context, orderID string) (*OrderDetail, error) {
	var (
		order      *domain.ServiceOrder
		planograms map[domain.CabinetRef]*domain.Planogram
	)
	err := p.uow.run(ctx, "order_detail", func(ctx context.Context, tx port.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if o == nil {
			return domain.NotFound("order", orderID)
		}
		order = o
		planograms, err = planogramsFor(ctx, tx, o.Cabinets)
		return err
	})
	if err != nil {
		return nil, err
	}

	devices, err := p.lookupDevices(ctx, order.Cabinets)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{
		ID:               order.ID,
		RouteID:          order.RouteID,
		DriverID:         order.DriverID,
		CreatedBy:        order.CreatedBy,
		Status:           order.Status,
		TotalUnits:       order.TotalUnits,
		EstimatedMinutes: order.EstimatedMinutes,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		LastModified:     order.LastModified,
		ModifiedBy:       order.ModifiedBy,
		Cabinets:         make([]CabinetDetail, 0, len(order.Cabinets)),
	}
	rates := make([]decimal.Decimal, 0, len(order.Cabinets))
	for _, co := range order.Cabinets {
		cd := p.cabinetDetail(co, planograms[co.Cabinet])
		if d, ok := devices[co.Cabinet.DeviceID]; ok {
			cd.Device = d
		} else {
			cd.Device = domain.Device{ID: co.Cabinet.DeviceID}
		}
		rates = append(rates, cd.FillRate)
		detail.Cabinets = append(detail.Cabinets, cd)
	}
	detail.FillRate = mean(rates)
	return detail, nil
}

// PickList aggregates the stored requirements of an order. Requirements never change
// after creation, so cached copies only expire by TTL.
func (p *Projections) PickList(ctx context.Context, orderID string) (*domain.PickList, error) {
	if p.cache != nil {
		pl, found, err := p.cache.GetPickList(ctx, orderID)
		if err != nil {
			p.logger.Warn("pick list cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if found {
			return pl, nil
		}
	}

	v, err, _ := p.group.Do(orderID, func() (any, error) {
		pl, err := p.buildPickList(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.SetPickList(ctx, orderID, *pl); err != nil {
				p.logger.Warn("pick list cache write failed", zap.String("order_id", orderID), zap.Error(err))
			}
		}
		return pl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PickList), nil
}

func (p *Projections) buildPickList(ctx context.Context, orderID string) (*domain.PickList, error) {
	var needs []domain.CabinetNeeds
	err := p.uow.run(ctx, "pick_list", func(ctx context.Context, tx port.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return domain.NotFound("order", orderID)
		}
		planograms, err := planogramsFor(ctx, tx, order.Cabinets)
		if err != nil {
			return err
		}
		for _, co := range order.Cabinets {
			products := productsOf(planograms[co.Cabinet])
			cn := domain.CabinetNeeds{Cabinet: co.Cabinet}
			for _, it := range co.Items {
				cn.Items = append(cn.Items, domain.ItemNeed{Product: lookupProduct(products, it.ProductID), Quantity: it.QuantityNeeded})
			}
			needs = append(needs, cn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pl := p.aggregator.Build(needs)
	return &pl, nil
}

// ListOrders summarizes orders in the given statuses (all when empty).
func (p *Projections) ListOrders(ctx context.Context, statuses []domain.OrderStatus) (*OrderList, error) {
	for _, s := range statuses {
		if !s.Valid() {
			return nil, domain.Validationf("unknown order status %q", s)
		}
	}

	var (
		listed, active []domain.ServiceOrder
		planograms     map[domain.CabinetRef]*domain.Planogram
	)
	err := p.uow.run(ctx, "list_orders", func(ctx context.Context, tx port.Tx) error {
		var err error
		if listed, err = tx.ListOrders(ctx, statuses); err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		if active, err = tx.ListOrders(ctx, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusInProgress}); err != nil {
			return fmt.Errorf("list active orders: %w", err)
		}
		var cabinets []domain.ServiceOrderCabinet
		for _, o := range append(append([]domain.ServiceOrder(nil), listed...), active...) {
			cabinets = append(cabinets, o.Cabinets...)
		}
		planograms, err = planogramsFor(ctx, tx, cabinets)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &OrderList{Orders: make([]OrderSummary, 0, len(listed))}
	for _, o := range listed {
		out.Orders = append(out.Orders, OrderSummary{
			ID:               o.ID,
			RouteID:          o.RouteID,
			DriverID:         o.DriverID,
			Status:           o.Status,
			TotalUnits:       o.TotalUnits,
			EstimatedMinutes: o.EstimatedMinutes,
			CabinetCount:     len(o.Cabinets),
			ExecutedCount:    o.ExecutedCount(),
			FillRate:         p.orderFillRate(o, planograms),
			CreatedAt:        o.CreatedAt,
			LastModified:     o.LastModified,
		})
	}
	rates := make([]decimal.Decimal, 0, len(active))
	for _, o := range active {
		rates = append(rates, p.orderFillRate(o, planograms))
	}
	out.AverageFillRate = mean(rates)
	return out, nil
}

func (p *Projections) cabinetDetail(co domain.ServiceOrderCabinet, pg *domain.Planogram) CabinetDetail {
	products := productsOf(pg)
	cd := CabinetDetail{
		ID:           co.ID,
		Cabinet:      co.Cabinet,
		Position:     co.Position,
		Executed:     co.Executed,
		Items:        make([]ItemDetail, 0, len(co.Items)),
		LastModified: co.LastModified,
		ModifiedBy:   co.ModifiedBy,
	}
	for _, it := range co.Items {
		cd.Items = append(cd.Items, ItemDetail{Product: lookupProduct(products, it.ProductID), QuantityNeeded: it.QuantityNeeded})
	}
	if pg != nil {
		cd.Capacity = pg.Capacity(p.sentinel)
	}
	if co.Visit != nil {
		cd.Delivered = co.Visit.TotalApplied()
		vd := &VisitDetail{
			ID:              co.Visit.ID,
			ExecutedBy:      co.Visit.ExecutedBy,
			ExecutedAt:      co.Visit.ExecutedAt,
			DurationMinutes: co.Visit.DurationMinutes,
			Items:           make([]DeliveredItemView, 0, len(co.Visit.Items)),
		}
		for _, it := range co.Visit.Items {
			vd.Items = append(vd.Items, DeliveredItemView{
				ProductID: it.ProductID,
				Requested: it.Requested,
				Applied:   it.Applied,
				Clamped:   it.Clamped(),
			})
		}
		cd.Visit = vd
	}
	cd.FillRate = fillRate(cd.Delivered, cd.Capacity)
	return cd
}

func (p *Projections) orderFillRate(o domain.ServiceOrder, planograms map[domain.CabinetRef]*domain.Planogram) decimal.Decimal {
	rates := make([]decimal.Decimal, 0, len(o.Cabinets))
	for _, co := range o.Cabinets {
		rates = append(rates, p.cabinetDetail(co, planograms[co.Cabinet]).FillRate)
	}
	return mean(rates)
}

func (p *Projections) lookupDevices(ctx context.Context, cabinets []domain.ServiceOrderCabinet) (map[string]domain.Device, error) {
	if p.devices == nil {
		return map[string]domain.Device{}, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, co := range cabinets {
		if !seen[co.Cabinet.DeviceID] {
			seen[co.Cabinet.DeviceID] = true
			ids = append(ids, co.Cabinet.DeviceID)
		}
	}
	devices, err := p.devices.Devices(ctx, ids)
	if err != nil {
		return nil, domain.StorageUnavailable(fmt.Errorf("lookup devices: %w", err))
	}
	return devices, nil
}

func planogramsFor(ctx context.Context, ledger port.InventoryLedger, cabinets []domain.ServiceOrderCabinet) (map[domain.CabinetRef]*domain.Planogram, error) {
	out := make(map[domain.CabinetRef]*domain.Planogram)
	for _, co := range cabinets {
		if _, ok := out[co.Cabinet]; ok {
			continue
		}
		pg, err := ledger.Planogram(ctx, co.Cabinet, false)
		if err != nil {
			return nil, fmt.Errorf("load planogram %s: %w", co.Cabinet, err)
		}
		out[co.Cabinet] = pg
	}
	return out, nil
}

func productsOf(pg *domain.Planogram) map[string]domain.Product {
	out := make(map[string]domain.Product)
	if pg == nil {
		return out
	}
	for _, s := range pg.Slots {
		out[s.Product.ID] = s.Product
	}
	return out
}

func lookupProduct(products map[string]domain.Product, id string) domain.Product {
	if p, ok := products[id]; ok {
		return p
	}
	return domain.Product{ID: id, Name: id}
}

// fillRate is delivered/capacity, zero when the cabinet has no capacity.
func fillRate(delivered, capacity int) decimal.Decimal {
	if capacity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(delivered)).DivRound(decimal.NewFromInt(int64(capacity)), fillRatePlaces)
}

func mean(rates []decimal.Decimal) decimal.Decimal {
	if len(rates) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, rates...).DivRound(decimal.NewFromInt(int64(len(rates))), fillRatePlaces)
}
