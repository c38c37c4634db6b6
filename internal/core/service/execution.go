package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

// Processor applies and reverses cabinet deliveries against the inventory ledger.
type Processor struct {
	uow      *unitOfWork
	sentinel string
	events   Emitter
	logger   *zap.Logger
	now      func() time.Time
}

type ExecuteResult struct {
	Visit       domain.ServiceVisit
	OrderID     string
	OrderStatus domain.OrderStatus
	TotalUnits  int
	Clamped     int
}

type RollbackResult struct {
	CabinetOrderID string
	OrderID        string
	OrderStatus    domain.OrderStatus
	RestoredUnits  int
}

// cabinetGuard runs against the locked cabinet order before any write. A non-nil
// error aborts the unit of work.
type cabinetGuard func(co domain.ServiceOrderCabinet) error

// Execute stocks the cabinet, records the visit and advances the order as one unit.
// A cabinet order can only be executed once until it is rolled back.
func (p *Processor) Execute(ctx context.Context, cabinetOrderID string, items []domain.ItemDelivery, actorID string) (*ExecuteResult, error) {
	return p.execute(ctx, cabinetOrderID, items, actorID, nil)
}

func (p *Processor) execute(ctx context.Context, cabinetOrderID string, items []domain.ItemDelivery, actorID string, guard cabinetGuard) (*ExecuteResult, error) {
	if cabinetOrderID == "" {
		return nil, domain.Validationf("cabinet order id is required")
	}
	if actorID == "" {
		return nil, domain.Validationf("actor is required")
	}
	if err := validateDeliveries(items); err != nil {
		return nil, err
	}

	now := p.now()
	var (
		res    ExecuteResult
		before domain.OrderStatus
	)
	err := p.uow.run(ctx, "execute", func(ctx context.Context, tx port.Tx) error {
		co, err := tx.GetCabinetOrder(ctx, cabinetOrderID, true)
		if err != nil {
			return fmt.Errorf("get cabinet order: %w", err)
		}
		if co == nil {
			return domain.NotFound("cabinet order", cabinetOrderID)
		}
		if guard != nil {
			if err := guard(*co); err != nil {
				return err
			}
		}
		if co.Executed {
			return domain.AlreadyExecuted(cabinetOrderID)
		}
		if err := p.checkOpen(ctx, tx, co.OrderID); err != nil {
			return err
		}

		visit := domain.ServiceVisit{
			ID:              newID(),
			CabinetOrderID:  co.ID,
			ExecutedBy:      actorID,
			DurationMinutes: domain.VisitDurationMinutes,
			ExecutedAt:      now,
		}
		if err := tx.ClaimCabinetOrder(ctx, co.ID, visit.ID, actorID, now); err != nil {
			return err
		}
		visit.Items, err = deliver(ctx, tx, co.Cabinet, items, p.sentinel)
		if err != nil {
			return err
		}
		if err := tx.InsertVisit(ctx, visit); err != nil {
			return fmt.Errorf("insert visit: %w", err)
		}

		var after domain.OrderStatus
		before, after, err = recomputeOrder(ctx, tx, co.OrderID, actorID, now)
		if err != nil {
			return err
		}

		res = ExecuteResult{Visit: visit, OrderID: co.OrderID, OrderStatus: after, TotalUnits: visit.TotalApplied()}
		for _, it := range visit.Items {
			res.Clamped += it.Clamped()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Clamped > 0 {
		p.logger.Warn("delivery clamped at capacity",
			zap.String("cabinet_order_id", cabinetOrderID),
			zap.Int("clamped_units", res.Clamped),
		)
	}
	p.logger.Info("cabinet executed",
		zap.String("cabinet_order_id", cabinetOrderID),
		zap.String("visit_id", res.Visit.ID),
		zap.Int("units", res.TotalUnits),
		zap.String("order_status", string(res.OrderStatus)),
	)
	p.events.Emit(ctx, domain.Event{
		ID:             newID(),
		Type:           domain.EventCabinetExecuted,
		OrderID:        res.OrderID,
		CabinetOrderID: cabinetOrderID,
		Status:         res.OrderStatus,
		Units:          res.TotalUnits,
		ActorID:        actorID,
		OccurredAt:     now,
	})
	if before != res.OrderStatus {
		p.events.Emit(ctx, statusEvent(res.OrderID, res.OrderStatus, actorID, now))
	}
	return &res, nil
}

// Rollback undoes an execution: the recorded per-slot deltas are subtracted, the
// visit is deleted and the cabinet order becomes executable again.
func (p *Processor) Rollback(ctx context.Context, cabinetOrderID, actorID string) (*RollbackResult, error) {
	return p.rollback(ctx, cabinetOrderID, actorID, nil)
}

func (p *Processor) rollback(ctx context.Context, cabinetOrderID, actorID string, guard cabinetGuard) (*RollbackResult, error) {
	if cabinetOrderID == "" {
		return nil, domain.Validationf("cabinet order id is required")
	}
	if actorID == "" {
		return nil, domain.Validationf("actor is required")
	}

	now := p.now()
	var (
		res    RollbackResult
		before domain.OrderStatus
	)
	err := p.uow.run(ctx, "rollback", func(ctx context.Context, tx port.Tx) error {
		co, err := tx.GetCabinetOrder(ctx, cabinetOrderID, true)
		if err != nil {
			return fmt.Errorf("get cabinet order: %w", err)
		}
		if co == nil {
			return domain.NotFound("cabinet order", cabinetOrderID)
		}
		if guard != nil {
			if err := guard(*co); err != nil {
				return err
			}
		}
		if !co.Executed {
			return domain.NotExecuted(cabinetOrderID)
		}
		if co.Visit == nil {
			return fmt.Errorf("cabinet order %s is executed but has no visit", cabinetOrderID)
		}
		if err := p.checkOpen(ctx, tx, co.OrderID); err != nil {
			return err
		}

		restored, err := reverse(ctx, tx, co.Cabinet, co.Visit.Items)
		if err != nil {
			return err
		}
		if err := tx.DeleteVisit(ctx, co.Visit.ID); err != nil {
			return fmt.Errorf("delete visit: %w", err)
		}
		if err := tx.ReleaseCabinetOrder(ctx, co.ID, actorID, now); err != nil {
			return err
		}

		var after domain.OrderStatus
		before, after, err = recomputeOrder(ctx, tx, co.OrderID, actorID, now)
		if err != nil {
			return err
		}
		res = RollbackResult{CabinetOrderID: co.ID, OrderID: co.OrderID, OrderStatus: after, RestoredUnits: restored}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("cabinet rolled back",
		zap.String("cabinet_order_id", cabinetOrderID),
		zap.Int("restored_units", res.RestoredUnits),
		zap.String("order_status", string(res.OrderStatus)),
	)
	p.events.Emit(ctx, domain.Event{
		ID:             newID(),
		Type:           domain.EventCabinetRolledBack,
		OrderID:        res.OrderID,
		CabinetOrderID: cabinetOrderID,
		Status:         res.OrderStatus,
		Units:          res.RestoredUnits,
		ActorID:        actorID,
		OccurredAt:     now,
	})
	if before != res.OrderStatus {
		p.events.Emit(ctx, statusEvent(res.OrderID, res.OrderStatus, actorID, now))
	}
	return &res, nil
}

// checkOpen rejects execution side effects on cancelled orders.
func (p *Processor) checkOpen(ctx context.Context, tx port.Tx, orderID string) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return domain.NotFound("order", orderID)
	}
	if order.Status.Terminal() {
		return domain.InvalidTransition(order.Status, domain.OrderStatusInProgress)
	}
	return nil
}
