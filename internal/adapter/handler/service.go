package handler

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
)

// FulfillmentService is the part of *service.Engine the transports call.
type FulfillmentService interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	PreviewOrder(ctx context.Context, req service.PreviewRequest) (*service.Preview, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, actorID string) (*domain.ServiceOrder, error)
	Execute(ctx context.Context, cabinetOrderID string, items []domain.ItemDelivery, actorID string) (*service.ExecuteResult, error)
	Rollback(ctx context.Context, cabinetOrderID, actorID string) (*service.RollbackResult, error)
	Sync(ctx context.Context, req service.SyncRequest) (*domain.SyncResult, error)
	OrderDetail(ctx context.Context, orderID string) (*service.OrderDetail, error)
	PickList(ctx context.Context, orderID string) (*domain.PickList, error)
	ListOrders(ctx context.Context, statuses []domain.OrderStatus) (*service.OrderList, error)
}

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CreateOrderRequest struct {
	RouteID    string              `json:"route_id"`
	Selections []domain.CabinetRef `json:"selections"`
	CreatedBy  string              `json:"created_by,omitempty"`
}

type PreviewOrderRequest struct {
	RouteID     string              `json:"route_id"`
	Selections  []domain.CabinetRef `json:"selections"`
	ServiceDate *time.Time          `json:"service_date,omitempty"`
}

type OrderPlanResponse struct {
	OrderID          string          `json:"order_id,omitempty"`
	RouteID          string          `json:"route_id"`
	DriverID         string          `json:"driver_id"`
	Status           string          `json:"status,omitempty"`
	ServiceDate      *time.Time      `json:"service_date,omitempty"`
	CabinetOrderIDs  []string        `json:"cabinet_order_ids,omitempty"`
	TotalUnits       int             `json:"total_units"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	PickList         domain.PickList `json:"pick_list"`
}

type UpdateStatusRequest struct {
	OrderID string             `json:"order_id,omitempty"`
	Status  domain.OrderStatus `json:"status"`
}

type OrderStatusResponse struct {
	OrderID      string             `json:"order_id"`
	Status       domain.OrderStatus `json:"status"`
	Version      int                `json:"version"`
	LastModified time.Time          `json:"last_modified"`
	ModifiedBy   string             `json:"modified_by"`
}

type SyncOrderRequest struct {
	OrderID  string              `json:"order_id,omitempty"`
	LastSync time.Time           `json:"last_sync"`
	Changes  []domain.SyncChange `json:"changes"`
}

type ExecuteRequest struct {
	CabinetOrderID string                `json:"cabinet_order_id,omitempty"`
	Items          []domain.ItemDelivery `json:"items"`
}

type ExecuteResponse struct {
	ServiceVisitID string             `json:"service_visit_id"`
	CabinetOrderID string             `json:"cabinet_order_id"`
	OrderID        string             `json:"order_id"`
	OrderStatus    domain.OrderStatus `json:"order_status"`
	TotalUnits     int                `json:"total_units"`
	Clamped        int                `json:"clamped"`
	ExecutedAt     time.Time          `json:"executed_at"`
	ExecutedBy     string             `json:"executed_by"`
}

type RollbackRequest struct {
	CabinetOrderID string `json:"cabinet_order_id"`
}

type RollbackResponse struct {
	CabinetOrderID string             `json:"cabinet_order_id"`
	OrderID        string             `json:"order_id"`
	OrderStatus    domain.OrderStatus `json:"order_status"`
	RestoredUnits  int                `json:"restored_units"`
}

type OrderIDRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	Statuses []domain.OrderStatus `json:"statuses,omitempty"`
}

const codeInternal domain.ErrorCode = "INTERNAL"

type ErrorResponse struct {
	Code      domain.ErrorCode   `json:"code"`
	Message   string             `json:"message"`
	Current   domain.OrderStatus `json:"current,omitempty"`
	Requested domain.OrderStatus `json:"requested,omitempty"`
}

func planResponse(res *service.CreateOrderResult) OrderPlanResponse {
	ids := make([]string, 0, len(res.Order.Cabinets))
	for _, c := range res.Order.Cabinets {
		ids = append(ids, c.ID)
	}
	return OrderPlanResponse{
		OrderID:          res.Order.ID,
		RouteID:          res.Order.RouteID,
		DriverID:         res.Order.DriverID,
		Status:           string(res.Order.Status),
		CabinetOrderIDs:  ids,
		TotalUnits:       res.PickList.TotalUnits,
		EstimatedMinutes: res.PickList.EstimatedMinutes,
		PickList:         res.PickList,
	}
}

func previewResponse(p *service.Preview) OrderPlanResponse {
	date := p.ServiceDate
	return OrderPlanResponse{
		RouteID:          p.RouteID,
		DriverID:         p.DriverID,
		ServiceDate:      &date,
		TotalUnits:       p.PickList.TotalUnits,
		EstimatedMinutes: p.PickList.EstimatedMinutes,
		PickList:         p.PickList,
	}
}

func statusResponse(o *domain.ServiceOrder) OrderStatusResponse {
	return OrderStatusResponse{
		OrderID:      o.ID,
		Status:       o.Status,
		Version:      o.Version,
		LastModified: o.LastModified,
		ModifiedBy:   o.ModifiedBy,
	}
}

func executeResponse(res *service.ExecuteResult) ExecuteResponse {
	return ExecuteResponse{
		ServiceVisitID: res.Visit.ID,
		CabinetOrderID: res.Visit.CabinetOrderID,
		OrderID:        res.OrderID,
		OrderStatus:    res.OrderStatus,
		TotalUnits:     res.TotalUnits,
		Clamped:        res.Clamped,
		ExecutedAt:     res.Visit.ExecutedAt,
		ExecutedBy:     res.Visit.ExecutedBy,
	}
}

func rollbackResponse(res *service.RollbackResult) RollbackResponse {
	return RollbackResponse{
		CabinetOrderID: res.CabinetOrderID,
		OrderID:        res.OrderID,
		OrderStatus:    res.OrderStatus,
		RestoredUnits:  res.RestoredUnits,
	}
}

func errorResponse(err error) ErrorResponse {
	var e *domain.Error
	if !errors.As(err, &e) {
		return ErrorResponse{Code: codeInternal, Message: "internal error"}
	}
	resp := ErrorResponse{Code: e.Code, Message: e.Message, Current: e.Current, Requested: e.Requested}
	if resp.Message == "" {
		resp.Message = string(e.Code)
	}
	return resp
}
