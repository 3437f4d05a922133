package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ordermodel "PShop/module/order/model"
	"PShop/service/chat/protocol"
)

func TestOrderNotifierCreated(t *testing.T) {
	s := newTestServer(t)
	owner := join(t, s, "c1", "client", "Cleo")
	vendor := join(t, s, "v1", "vendor", "Vera")
	other := join(t, s, "c2", "client", "Carl")
	drainAll(t, owner, vendor, other)

	n := NewOrderNotifier(s)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n.EmitOrderCreated(context.Background(), &ordermodel.Order{
		ID: "o1", UserID: "c1", VendorID: "v1", Status: ordermodel.StatusPending, CreatedAt: created,
	})
	flush(t, s)

	for _, c := range []*Conn{owner, vendor} {
		frames := drain(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.EvOrderCreated, frames[0].Event)
		ev := decodeData[protocol.OrderEvent](t, frames[0])
		assert.Equal(t, "o1", ev.OrderID)
		assert.Equal(t, "pending", ev.Status)
		assert.True(t, created.Equal(ev.Timestamp))
	}
	assert.Empty(t, drain(t, other))
}

func TestOrderNotifierUpdated(t *testing.T) {
	s := newTestServer(t)
	owner := join(t, s, "c1", "client", "Cleo")
	vendor := join(t, s, "v1", "vendor", "Vera")
	drainAll(t, owner, vendor)

	NewOrderNotifier(s).EmitOrderUpdated(context.Background(), &ordermodel.Order{
		ID: "o1", UserID: "c1", VendorID: "v1", Status: ordermodel.StatusShipped, UpdatedAt: fixedNow,
	})
	flush(t, s)

	for _, c := range []*Conn{owner, vendor} {
		frames := drain(t, c)
		require.Len(t, frames, 2)
		assert.Equal(t, protocol.EvOrderUpdated, frames[0].Event)
		assert.Equal(t, protocol.EvOrderStatusChanged, frames[1].Event)
		changed := decodeData[protocol.OrderStatusChanged](t, frames[1])
		assert.Equal(t, "o1", changed.OrderID)
		assert.Equal(t, "shipped", changed.Status)
	}
}

func TestOrderNotifierUnavailable(t *testing.T) {
	o := &ordermodel.Order{ID: "o1", UserID: "c1"}
	var nilNotifier *OrderNotifier
	assert.NotPanics(t, func() { nilNotifier.EmitOrderCreated(context.Background(), o) })
	assert.NotPanics(t, func() { NewOrderNotifier(nil).EmitOrderUpdated(context.Background(), o) })

	s := NewServer(Options{}) // never started
	assert.NotPanics(t, func() { NewOrderNotifier(s).EmitOrderCreated(context.Background(), o) })
}
