package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
)

const (
	ServiceName = "restock.v1.Fulfillment"

	// ActorMetadataKey is the gRPC metadata key carrying the caller id.
	ActorMetadataKey = "x-actor-id"
)

// FulfillmentServer is the gRPC surface of the engine.
type FulfillmentServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderPlanResponse, error)
	PreviewOrder(context.Context, *PreviewOrderRequest) (*OrderPlanResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*service.OrderList, error)
	GetOrder(context.Context, *OrderIDRequest) (*service.OrderDetail, error)
	GetPickList(context.Context, *OrderIDRequest) (*domain.PickList, error)
	UpdateStatus(context.Context, *UpdateStatusRequest) (*OrderStatusResponse, error)
	SyncOrder(context.Context, *SyncOrderRequest) (*domain.SyncResult, error)
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	Rollback(context.Context, *RollbackRequest) (*RollbackResponse, error)
}

// FulfillmentServiceDesc is registered by hand; messages are JSON, see JSONCodecName.
var FulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateOrder", FulfillmentServer.CreateOrder),
		unary("PreviewOrder", FulfillmentServer.PreviewOrder),
		unary("ListOrders", FulfillmentServer.ListOrders),
		unary("GetOrder", FulfillmentServer.GetOrder),
		unary("GetPickList", FulfillmentServer.GetPickList),
		unary("UpdateStatus", FulfillmentServer.UpdateStatus),
		unary("SyncOrder", FulfillmentServer.SyncOrder),
		unary("Execute", FulfillmentServer.Execute),
		unary("Rollback", FulfillmentServer.Rollback),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "restock/v1/fulfillment",
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&FulfillmentServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(FulfillmentServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
			}
			if interceptor == nil {
				return call(srv.(FulfillmentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(FulfillmentServer), ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	svc    FulfillmentService
	logger *zap.Logger
}

func NewGRPCHandler(svc FulfillmentService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{svc: svc, logger: logger}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderPlanResponse, error) {
	createdBy := actorFromContext(ctx)
	if createdBy == "" {
		createdBy = req.CreatedBy
	}
	res, err := h.svc.CreateOrder(ctx, service.CreateOrderRequest{
		RouteID:    req.RouteID,
		Selections: req.Selections,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	out := planResponse(res)
	return &out, nil
}

func (h *GRPCHandler) PreviewOrder(ctx context.Context, req *PreviewOrderRequest) (*OrderPlanResponse, error) {
	res, err := h.svc.PreviewOrder(ctx, service.PreviewRequest{
		RouteID:     req.RouteID,
		Selections:  req.Selections,
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	out := previewResponse(res)
	return &out, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*service.OrderList, error) {
	res, err := h.svc.ListOrders(ctx, req.Statuses)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderIDRequest) (*service.OrderDetail, error) {
	res, err := h.svc.OrderDetail(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) GetPickList(ctx context.Context, req *OrderIDRequest) (*domain.PickList, error) {
	res, err := h.svc.PickList(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderStatusResponse, error) {
	res, err := h.svc.UpdateStatus(ctx, req.OrderID, req.Status, actorFromContext(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	out := statusResponse(res)
	return &out, nil
}

func (h *GRPCHandler) SyncOrder(ctx context.Context, req *SyncOrderRequest) (*domain.SyncResult, error) {
	res, err := h.svc.Sync(ctx, service.SyncRequest{
		OrderID:  req.OrderID,
		ActorID:  actorFromContext(ctx),
		LastSync: req.LastSync,
		Changes:  req.Changes,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	res, err := h.svc.Execute(ctx, req.CabinetOrderID, req.Items, actorFromContext(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	out := executeResponse(res)
	return &out, nil
}

func (h *GRPCHandler) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error) {
	res, err := h.svc.Rollback(ctx, req.CabinetOrderID, actorFromContext(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	out := rollbackResponse(res)
	return &out, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	code := grpcCode(err)
	if code == codes.Internal || code == codes.Unavailable {
		h.logger.Error("rpc failed", zap.Error(err))
	}
	return status.Error(code, errorResponse(err).Message)
}

// LoggingInterceptor logs every unary call with its outcome code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotExecuted):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrAlreadyExecuted):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrStorageUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func actorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ActorMetadataKey); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
