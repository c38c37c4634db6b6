package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
)

// FulfillmentClient calls restock.v1.Fulfillment over the JSON codec.
type FulfillmentClient struct {
	cc grpc.ClientConnInterface
}

func NewFulfillmentClient(cc grpc.ClientConnInterface) *FulfillmentClient {
	return &FulfillmentClient{cc: cc}
}

// WithActor attaches the caller id to outgoing calls made with ctx.
func WithActor(ctx context.Context, actorID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, actorID)
}

func (c *FulfillmentClient) CreateOrder(ctx context.Context, in *CreateOrderRequest) (*OrderPlanResponse, error) {
	out := new(OrderPlanResponse)
	return out, c.invoke(ctx, "CreateOrder", in, out)
}

func (c *FulfillmentClient) PreviewOrder(ctx context.Context, in *PreviewOrderRequest) (*OrderPlanResponse, error) {
	out := new(OrderPlanResponse)
	return out, c.invoke(ctx, "PreviewOrder", in, out)
}

func (c *FulfillmentClient) ListOrders(ctx context.Context, in *ListOrdersRequest) (*service.OrderList, error) {
	out := new(service.OrderList)
	return out, c.invoke(ctx, "ListOrders", in, out)
}

func (c *FulfillmentClient) GetOrder(ctx context.Context, in *OrderIDRequest) (*service.OrderDetail, error) {
	out := new(service.OrderDetail)
	return out, c.invoke(ctx, "GetOrder", in, out)
}

func (c *FulfillmentClient) GetPickList(ctx context.Context, in *OrderIDRequest) (*domain.PickList, error) {
	out := new(domain.PickList)
	return out, c.invoke(ctx, "GetPickList", in, out)
}

func (c *FulfillmentClient) UpdateStatus(ctx context.Context, in *UpdateStatusRequest) (*OrderStatusResponse, error) {
	out := new(OrderStatusResponse)
	return out, c.invoke(ctx, "UpdateStatus", in, out)
}

func (c *FulfillmentClient) SyncOrder(ctx context.Context, in *SyncOrderRequest) (*domain.SyncResult, error) {
	out := new(domain.SyncResult)
	return out, c.invoke(ctx, "SyncOrder", in, out)
}

func (c *FulfillmentClient) Execute(ctx context.Context, in *ExecuteRequest) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	return out, c.invoke(ctx, "Execute", in, out)
}

func (c *FulfillmentClient) Rollback(ctx context.Context, in *RollbackRequest) (*RollbackResponse, error) {
	out := new(RollbackResponse)
	return out, c.invoke(ctx, "Rollback", in, out)
}

func (c *FulfillmentClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONCodecName))
}
