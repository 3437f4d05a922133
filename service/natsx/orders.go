package natsx

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"PShop/global/config"
	"PShop/logger"
	ordermodel "PShop/module/order/model"
	"PShop/tools/errs"
)

const (
	BizOrderCreated = "order.created"
	BizOrderUpdated = "order.updated"
)

// OrderRoutes registers both order subjects on m as core queue subscriptions.
func OrderRoutes(m *NatsManager, c config.NatsConfig) error {
	for _, r := range []NatsxRoute{
		{Biz: BizOrderCreated, Subject: c.OrderCreated, Mode: Core, Queue: c.Queue},
		{Biz: BizOrderUpdated, Subject: c.OrderUpdated, Mode: Core, Queue: c.Queue},
	} {
		if err := m.RegisterRoute(r); err != nil {
			return err
		}
	}
	return nil
}

// OrderSink receives decoded order events (the gateway's OrderNotifier).
type OrderSink interface {
	EmitOrderCreated(ctx context.Context, o *ordermodel.Order)
	EmitOrderUpdated(ctx context.Context, o *ordermodel.Order)
}

// OrderBridge feeds order events published by other services into the gateway.
type OrderBridge struct {
	sink OrderSink
}

func NewOrderBridge(sink OrderSink) *OrderBridge {
	return &OrderBridge{sink: sink}
}

// Start subscribes both routes; the subscriptions live until the manager closes.
func (b *OrderBridge) Start(ctx context.Context, m *NatsManager) error {
	if err := m.Subscribe(ctx, BizOrderCreated, b.handler(BizOrderCreated)); err != nil {
		return err
	}
	return m.Subscribe(ctx, BizOrderUpdated, b.handler(BizOrderUpdated))
}

func decodeOrder(data []byte) (*ordermodel.Order, error) {
	var o ordermodel.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg("order json", "err", err)
	}
	if o.ID == "" || o.UserID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("order needs orderId and userId")
	}
	return &o, nil
}

func (b *OrderBridge) handler(biz string) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		o, err := decodeOrder(msg.Data)
		if err != nil {
			// 坏消息不重投
			logger.Warn("drop order event", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		switch biz {
		case BizOrderCreated:
			b.sink.EmitOrderCreated(ctx, o)
		case BizOrderUpdated:
			b.sink.EmitOrderUpdated(ctx, o)
		}
		return nil
	}
}

// OrderPublisher announces order changes for every gateway instance to pick up.
type OrderPublisher struct {
	sp *NatsxSyncPublisher
}

func NewOrderPublisher(p publisher) *OrderPublisher {
	return &OrderPublisher{sp: &NatsxSyncPublisher{P: p, Retries: 3, Backoff: 200 * time.Millisecond}}
}

func orderMsgID(o *ordermodel.Order) string {
	return o.ID + ":" + o.Status + ":" + strconv.FormatInt(o.UpdatedAt.UnixNano(), 10)
}

func (p *OrderPublisher) publish(ctx context.Context, biz string, o *ordermodel.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return errs.Wrap(err)
	}
	return p.sp.Publish(ctx, biz, data, map[string]string{"Content-Type": "application/json"}, orderMsgID(o))
}

func (p *OrderPublisher) OrderCreated(ctx context.Context, o *ordermodel.Order) error {
	return p.publish(ctx, BizOrderCreated, o)
}

func (p *OrderPublisher) OrderUpdated(ctx context.Context, o *ordermodel.Order) error {
	return p.publish(ctx, BizOrderUpdated, o)
}
