package api

import (
	"context"

	ordermodel "PShop/module/order/model"
)

// Notifier is satisfied by chat.OrderNotifier.
type Notifier interface {
	EmitOrderCreated(ctx context.Context, o *ordermodel.Order)
	EmitOrderUpdated(ctx context.Context, o *ordermodel.Order)
}

// LocalEvents 单机模式：不经 NATS，直接推给本进程的网关
type LocalEvents struct {
	N Notifier
}

func (l LocalEvents) OrderCreated(ctx context.Context, o *ordermodel.Order) error {
	l.N.EmitOrderCreated(ctx, o)
	return nil
}

func (l LocalEvents) OrderUpdated(ctx context.Context, o *ordermodel.Order) error {
	l.N.EmitOrderUpdated(ctx, o)
	return nil
}
