package domain

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled
}

// manualTransitions lists the moves a caller may request directly. completed -> in_progress
// is absent: it only happens through Recompute after a rollback.
var manualTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusCancelled},
}

// CheckTransition validates a manually requested status change against the transition
// table and the order's cabinet state. Completion is only accepted once every cabinet
// order is executed.
func CheckTransition(order ServiceOrder, to OrderStatus) error {
	if !to.Valid() {
		return Validationf("unknown order status %q", to)
	}
	allowed := false
	for _, s := range manualTransitions[order.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return InvalidTransition(order.Status, to)
	}
	if to == OrderStatusCompleted && !order.AllExecuted() {
		return InvalidTransition(order.Status, to)
	}
	return nil
}

// Recompute derives an order's status from its children. It is the only place that
// advances status as a side effect of execution or rollback.
func Recompute(current OrderStatus, executed, total int) OrderStatus {
	if current == OrderStatusCancelled {
		return OrderStatusCancelled
	}
	if total > 0 && executed == total {
		return OrderStatusCompleted
	}
	if executed > 0 {
		return OrderStatusInProgress
	}
	if current == OrderStatusPending {
		return OrderStatusPending
	}
	return OrderStatusInProgress
}
