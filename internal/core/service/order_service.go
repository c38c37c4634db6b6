package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

type OrderService struct {
	uow        *unitOfWork
	routes     port.RouteDirectory
	aggregator *Aggregator
	events     Emitter
	logger     *zap.Logger
	now        func() time.Time
}

type CreateOrderRequest struct {
	RouteID    string
	Selections []domain.CabinetRef
	CreatedBy  string
}

type CreateOrderResult struct {
	Order    domain.ServiceOrder
	PickList domain.PickList
}

type PreviewRequest struct {
	RouteID     string
	Selections  []domain.CabinetRef
	ServiceDate *time.Time
}

type Preview struct {
	RouteID     string
	DriverID    string
	ServiceDate time.Time
	PickList    domain.PickList
}

// CreateOrder persists a pending order with one cabinet order per selection. Either
// every row is written or none is.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := validateSelections(req.RouteID, req.Selections); err != nil {
		return nil, err
	}
	if req.CreatedBy == "" {
		return nil, domain.Validationf("created_by is required")
	}
	driverID, err := s.resolveDriver(ctx, req.RouteID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var result CreateOrderResult
	err = s.uow.run(ctx, "create_order", func(ctx context.Context, tx port.Tx) error {
		planograms, err := loadPlanograms(ctx, tx, req.Selections)
		if err != nil {
			return err
		}
		pl := s.aggregator.Aggregate(planograms)
		order := buildOrder(req, driverID, pl, now)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		result = CreateOrderResult{Order: order, PickList: pl}
		return nil
	})
	if err != nil {
		s.logger.Warn("create order failed", zap.String("route_id", req.RouteID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", result.Order.ID),
		zap.String("route_id", req.RouteID),
		zap.Int("cabinets", len(result.Order.Cabinets)),
		zap.Int("total_units", result.Order.TotalUnits),
	)
	s.events.Emit(ctx, domain.Event{
		ID:         newID(),
		Type:       domain.EventOrderCreated,
		OrderID:    result.Order.ID,
		Status:     result.Order.Status,
		Units:      result.Order.TotalUnits,
		ActorID:    req.CreatedBy,
		OccurredAt: now,
	})
	return &result, nil
}

// PreviewOrder runs the same validation and aggregation as CreateOrder without writing.
func (s *OrderService) PreviewOrder(ctx context.Context, req PreviewRequest) (*Preview, error) {
	if err := validateSelections(req.RouteID, req.Selections); err != nil {
		return nil, err
	}
	driverID, err := s.resolveDriver(ctx, req.RouteID)
	if err != nil {
		return nil, err
	}

	preview := Preview{RouteID: req.RouteID, DriverID: driverID, ServiceDate: s.now()}
	if req.ServiceDate != nil {
		preview.ServiceDate = req.ServiceDate.UTC()
	}
	err = s.uow.run(ctx, "preview_order", func(ctx context.Context, tx port.Tx) error {
		planograms, err := loadPlanograms(ctx, tx, req.Selections)
		if err != nil {
			return err
		}
		preview.PickList = s.aggregator.Aggregate(planograms)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &preview, nil
}

// UpdateStatus applies a manual status change. Moves that would bypass execution are
// rejected with INVALID_TRANSITION.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) (*domain.ServiceOrder, error) {
	return s.updateStatus(ctx, orderID, status, actorID, nil)
}

// updateStatus runs guard on the loaded order inside the same unit of work as the
// write. The versioned update retries the whole unit, guard included.
func (s *OrderService) updateStatus(ctx context.Context, orderID string, status domain.OrderStatus, actorID string, guard func(domain.ServiceOrder) error) (*domain.ServiceOrder, error) {
	if orderID == "" {
		return nil, domain.Validationf("order id is required")
	}
	if actorID == "" {
		return nil, domain.Validationf("actor is required")
	}

	now := s.now()
	var updated domain.ServiceOrder
	err := s.uow.run(ctx, "update_status", func(ctx context.Context, tx port.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return domain.NotFound("order", orderID)
		}
		if guard != nil {
			if err := guard(*order); err != nil {
				return err
			}
		}
		if err := domain.CheckTransition(*order, status); err != nil {
			return err
		}
		order.Status = status
		order.LastModified = now
		order.ModifiedBy = actorID
		if err := tx.UpdateOrder(ctx, *order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		order.Version++
		updated = *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.String("actor_id", actorID),
	)
	s.events.Emit(ctx, statusEvent(orderID, status, actorID, now))
	return &updated, nil
}

func (s *OrderService) resolveDriver(ctx context.Context, routeID string) (string, error) {
	driverID, found, err := s.routes.AssignedDriver(ctx, routeID)
	if err != nil {
		return "", domain.StorageUnavailable(fmt.Errorf("lookup route: %w", err))
	}
	if !found {
		return "", domain.Validationf("route %s does not exist", routeID)
	}
	if driverID == "" {
		return "", domain.Validationf("route %s has no assigned driver", routeID)
	}
	return driverID, nil
}

// recomputeOrder re-derives the order status from its cabinets and stamps the order as
// modified by actor. The write is version guarded, so concurrent executions of sibling
// cabinets serialize here and retry.
func recomputeOrder(ctx context.Context, tx port.Tx, orderID, actorID string, now time.Time) (before, after domain.OrderStatus, err error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return "", "", fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return "", "", domain.NotFound("order", orderID)
	}
	before = order.Status
	order.Status = domain.Recompute(order.Status, order.ExecutedCount(), len(order.Cabinets))
	order.LastModified = now
	order.ModifiedBy = actorID
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return "", "", fmt.Errorf("update order: %w", err)
	}
	return before, order.Status, nil
}

func validateSelections(routeID string, selections []domain.CabinetRef) error {
	if routeID == "" {
		return domain.Validationf("route_id is required")
	}
	if len(selections) == 0 {
		return domain.Validationf("at least one cabinet selection is required")
	}
	seen := make(map[domain.CabinetRef]bool, len(selections))
	for i, sel := range selections {
		if sel.DeviceID == "" {
			return domain.Validationf("selection %d: device_id is required", i)
		}
		if sel.CabinetIndex < 0 || sel.CabinetIndex >= domain.MaxCabinetsPerDevice {
			return domain.Validationf("selection %d: cabinet_index must be between 0 and %d", i, domain.MaxCabinetsPerDevice-1)
		}
		if seen[sel] {
			return domain.Validationf("selection %d: cabinet %s selected twice", i, sel)
		}
		seen[sel] = true
	}
	return nil
}

func loadPlanograms(ctx context.Context, ledger port.InventoryLedger, selections []domain.CabinetRef) ([]domain.Planogram, error) {
	planograms := make([]domain.Planogram, 0, len(selections))
	for _, sel := range selections {
		pg, err := ledger.Planogram(ctx, sel, false)
		if err != nil {
			return nil, fmt.Errorf("load planogram %s: %w", sel, err)
		}
		if pg == nil || len(pg.Slots) == 0 {
			return nil, domain.ConfigurationNotFound(sel)
		}
		planograms = append(planograms, *pg)
	}
	return planograms, nil
}

func buildOrder(req CreateOrderRequest, driverID string, pl domain.PickList, now time.Time) domain.ServiceOrder {
	order := domain.ServiceOrder{
		ID:               newID(),
		RouteID:          req.RouteID,
		CreatedBy:        req.CreatedBy,
		DriverID:         driverID,
		Status:           domain.OrderStatusPending,
		TotalUnits:       pl.TotalUnits,
		EstimatedMinutes: pl.EstimatedMinutes,
		CreatedAt:        now,
		LastModified:     now,
		ModifiedBy:       req.CreatedBy,
	}
	for i, cn := range pl.Cabinets {
		co := domain.ServiceOrderCabinet{
			ID:           newID(),
			OrderID:      order.ID,
			Cabinet:      cn.Cabinet,
			Position:     i,
			LastModified: now,
			ModifiedBy:   req.CreatedBy,
		}
		for _, it := range cn.Items {
			co.Items = append(co.Items, domain.ServiceOrderItem{ProductID: it.Product.ID, QuantityNeeded: it.Quantity})
		}
		order.Cabinets = append(order.Cabinets, co)
	}
	return order
}
