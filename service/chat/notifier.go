package chat

import (
	"context"

	"go.uber.org/zap"

	"PShop/logger"
	ordermodel "PShop/module/order/model"
	"PShop/service/chat/protocol"
)

// OrderNotifier is how code outside the gateway (order API, NATS bridge) pushes
// order events. A nil or stopped server makes every call a logged no-op.
type OrderNotifier struct {
	srv *Server
	log *zap.Logger
}

func NewOrderNotifier(srv *Server) *OrderNotifier {
	return &OrderNotifier{srv: srv, log: logger.Named("order-notifier")}
}

func orderEvent(o *ordermodel.Order) protocol.OrderEvent {
	ts := o.UpdatedAt
	if ts.IsZero() {
		ts = o.CreatedAt
	}
	return protocol.OrderEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		VendorID:  o.VendorID,
		Status:    o.Status,
		Timestamp: ts.UTC(),
	}
}

func (n *OrderNotifier) available(op string, o *ordermodel.Order) bool {
	if n == nil || n.srv == nil || !n.srv.Running() {
		logger.Warn("gateway unavailable, order event not sent", zap.String("op", op), zap.String("order", o.ID))
		return false
	}
	return true
}

// EmitOrderCreated sends order-created to the owner and the vendor role channel.
func (n *OrderNotifier) EmitOrderCreated(ctx context.Context, o *ordermodel.Order) {
	if !n.available(protocol.EvOrderCreated, o) {
		return
	}
	ev := orderEvent(o)
	err := n.srv.submit(ctx, func() {
		n.srv.rooms.EmitToChannels([]string{protocol.PersonalChannel(o.UserID), protocol.RoleVendor}, protocol.EvOrderCreated, ev)
	})
	if err != nil {
		n.log.Warn("order-created not sent", zap.String("order", o.ID), zap.Error(err))
	}
}

// EmitOrderUpdated sends order-updated and the derived order-status-changed.
func (n *OrderNotifier) EmitOrderUpdated(ctx context.Context, o *ordermodel.Order) {
	if !n.available(protocol.EvOrderUpdated, o) {
		return
	}
	ev := orderEvent(o)
	changed := protocol.OrderStatusChanged{OrderID: o.ID, Status: o.Status, Timestamp: ev.Timestamp}
	err := n.srv.submit(ctx, func() {
		chs := []string{protocol.PersonalChannel(o.UserID), protocol.RoleVendor}
		n.srv.rooms.EmitToChannels(chs, protocol.EvOrderUpdated, ev)
		n.srv.rooms.EmitToChannels(chs, protocol.EvOrderStatusChanged, changed)
	})
	if err != nil {
		n.log.Warn("order-updated not sent", zap.String("order", o.ID), zap.Error(err))
	}
}
