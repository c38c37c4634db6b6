package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

// SyncCoordinator reconciles changes a driver recorded while offline.
type SyncCoordinator struct {
	uow       *unitOfWork
	orders    *OrderService
	processor *Processor
	logger    *zap.Logger
	now       func() time.Time
}

type SyncRequest struct {
	OrderID  string
	ActorID  string
	LastSync time.Time
	Changes  []domain.SyncChange
}

// Sync applies changes in submitted order. A change whose target was modified after
// LastSync by someone else is returned as a conflict and left unapplied; no merge is
// attempted. Only storage failures abort the batch.
func (c *SyncCoordinator) Sync(ctx context.Context, req SyncRequest) (*domain.SyncResult, error) {
	if req.OrderID == "" {
		return nil, domain.Validationf("order id is required")
	}
	if req.ActorID == "" {
		return nil, domain.Validationf("actor is required")
	}
	before, err := c.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	result := &domain.SyncResult{
		Applied:       []domain.ChangeResult{},
		Rejected:      []domain.ChangeResult{},
		Conflicts:     []domain.Conflict{},
		ServerChanges: []domain.EntitySnapshot{},
	}
	for _, change := range req.Changes {
		outcome, conflict, err := c.apply(ctx, req, change)
		if err != nil {
			return nil, err
		}
		switch outcome.Outcome {
		case domain.OutcomeApplied:
			result.Applied = append(result.Applied, outcome)
		case domain.OutcomeConflict:
			result.Conflicts = append(result.Conflicts, *conflict)
		default:
			result.Rejected = append(result.Rejected, outcome)
		}
		if err := c.audit(ctx, req, change, outcome); err != nil {
			return nil, err
		}
	}

	result.SyncedAt = c.now()
	after, err := c.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	result.ServerChanges = serverChanges(before, after, req.LastSync, req.ActorID)

	c.logger.Info("sync batch processed",
		zap.String("order_id", req.OrderID),
		zap.String("actor_id", req.ActorID),
		zap.Int("applied", len(result.Applied)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("server_changes", len(result.ServerChanges)),
	)
	return result, nil
}

// serverChanges reports every entity another actor touched after since, as seen
// either before the batch ran or after it. The batch's own writes re-stamp the
// order, so the earlier read is needed to keep those edits visible. Reported
// snapshots are always the current ones.
func serverChanges(before, after *domain.ServiceOrder, since time.Time, actor string) []domain.EntitySnapshot {
	touched := make(map[string]bool)
	if domain.OrderSnapshot(*before).ModifiedAfterBy(since, actor) {
		touched[before.ID] = true
	}
	for _, co := range before.Cabinets {
		if domain.CabinetOrderSnapshot(co).ModifiedAfterBy(since, actor) {
			touched[co.ID] = true
		}
	}

	out := []domain.EntitySnapshot{}
	if snap := domain.OrderSnapshot(*after); touched[after.ID] || snap.ModifiedAfterBy(since, actor) {
		out = append(out, snap)
	}
	for _, co := range after.Cabinets {
		if snap := domain.CabinetOrderSnapshot(co); touched[co.ID] || snap.ModifiedAfterBy(since, actor) {
			out = append(out, snap)
		}
	}
	return out
}

// staleTargetError aborts an apply whose target was modified by another actor after
// the client's last sync. It never leaves the coordinator.
type staleTargetError struct {
	snap domain.EntitySnapshot
}

func (e *staleTargetError) Error() string {
	return fmt.Sprintf("%s %s modified by %s", e.snap.Kind, e.snap.ID, e.snap.ModifiedBy)
}

// apply runs one change. The conflict check sits inside the same unit of work as the
// write and sees the locked row, so a concurrent edit either lands first and is
// reported as a conflict or commits after this change.
func (c *SyncCoordinator) apply(ctx context.Context, req SyncRequest, change domain.SyncChange) (domain.ChangeResult, *domain.Conflict, error) {
	res := domain.ChangeResult{ChangeID: change.ID, Type: change.Type, TargetID: change.TargetID}
	if change.Type == domain.ChangeOrderStatusChanged && res.TargetID == "" {
		res.TargetID = req.OrderID
	}
	if res.TargetID == "" {
		return rejectOrFail(res, domain.Validationf("target_id is required"))
	}

	checkCabinet := func(co domain.ServiceOrderCabinet) error {
		if co.OrderID != req.OrderID {
			return domain.Validationf("cabinet order %s does not belong to order %s", co.ID, req.OrderID)
		}
		if snap := domain.CabinetOrderSnapshot(co); snap.ModifiedAfterBy(req.LastSync, req.ActorID) {
			return &staleTargetError{snap: snap}
		}
		return nil
	}

	var err error
	switch change.Type {
	case domain.ChangeCabinetExecuted:
		var payload domain.ExecutePayload
		if err := json.Unmarshal(change.Payload, &payload); err != nil {
			return rejectOrFail(res, domain.Validationf("malformed payload: %v", err))
		}
		_, err = c.processor.execute(ctx, res.TargetID, payload.Items, req.ActorID, checkCabinet)
	case domain.ChangeCabinetRolledBack:
		_, err = c.processor.rollback(ctx, res.TargetID, req.ActorID, checkCabinet)
	case domain.ChangeOrderStatusChanged:
		if res.TargetID != req.OrderID {
			return rejectOrFail(res, domain.Validationf("status change targets order %s, not %s", res.TargetID, req.OrderID))
		}
		var payload domain.StatusPayload
		if err := json.Unmarshal(change.Payload, &payload); err != nil {
			return rejectOrFail(res, domain.Validationf("malformed payload: %v", err))
		}
		_, err = c.orders.updateStatus(ctx, res.TargetID, payload.Status, req.ActorID, func(o domain.ServiceOrder) error {
			if snap := domain.OrderSnapshot(o); snap.ModifiedAfterBy(req.LastSync, req.ActorID) {
				return &staleTargetError{snap: snap}
			}
			return nil
		})
	default:
		return rejectOrFail(res, domain.Validationf("unknown change type %q", change.Type))
	}

	var stale *staleTargetError
	if errors.As(err, &stale) {
		res.Outcome = domain.OutcomeConflict
		return res, &domain.Conflict{Change: change, Server: stale.snap}, nil
	}
	if err != nil {
		return rejectOrFail(res, err)
	}
	res.Outcome = domain.OutcomeApplied
	return res, nil, nil
}

func (c *SyncCoordinator) loadOrder(ctx context.Context, orderID string) (*domain.ServiceOrder, error) {
	var order *domain.ServiceOrder
	err := c.uow.run(ctx, "sync_load", func(ctx context.Context, tx port.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if o == nil {
			return domain.NotFound("order", orderID)
		}
		order = o
		return nil
	})
	return order, err
}

func (c *SyncCoordinator) audit(ctx context.Context, req SyncRequest, change domain.SyncChange, res domain.ChangeResult) error {
	entry := domain.SyncAuditEntry{
		ID:              newID(),
		OrderID:         req.OrderID,
		ChangeID:        change.ID,
		ChangeType:      change.Type,
		TargetID:        res.TargetID,
		ActorID:         req.ActorID,
		ClientTimestamp: change.ClientTimestamp.UTC(),
		Outcome:         res.Outcome,
		Reason:          res.Reason,
		RecordedAt:      c.now(),
	}
	return c.uow.run(ctx, "sync_audit", func(ctx context.Context, tx port.Tx) error {
		return tx.RecordSyncOutcome(ctx, entry)
	})
}

// rejectOrFail turns a per-change engine error into a rejected outcome. Storage
// failures are passed up so the caller aborts the batch.
func rejectOrFail(res domain.ChangeResult, err error) (domain.ChangeResult, *domain.Conflict, error) {
	code := domain.CodeOf(err)
	if code == "" || code == domain.CodeStorageUnavailable {
		return res, nil, classify(err)
	}
	res.Outcome = domain.OutcomeRejected
	res.Code = code
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		res.Reason = de.Message
	} else {
		res.Reason = err.Error()
	}
	return res, nil, nil
}
