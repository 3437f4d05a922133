package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ordermodel "PShop/module/order/model"
	"PShop/tools/errs"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				trace = append(trace, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		trace = append(trace, "h")
		return nil
	}, mw("a"), mw("b"))
	require.NoError(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "h"}, trace)
}

func TestRecoverMiddleware(t *testing.T) {
	h := NatsxChain(func(context.Context, NatsxMessage) error { panic("boom") }, NatsxRecover())
	err := h(context.Background(), NatsxMessage{Subject: "s"})
	assert.True(t, errors.Is(err, errs.ErrInternal))
}

func TestIdemMiddleware(t *testing.T) {
	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(NewMemIdem(time.Minute), 0))

	ctx := context.Background()
	withID := NatsxMessage{Subject: "s", Header: map[string]string{HeaderMsgID: "m1"}}
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, withID))
	assert.Equal(t, 1, calls)

	// 无 ID：按内容去重
	require.NoError(t, h(ctx, NatsxMessage{Subject: "s", Data: []byte("x")}))
	require.NoError(t, h(ctx, NatsxMessage{Subject: "s", Data: []byte("x ")}))
	require.NoError(t, h(ctx, NatsxMessage{Subject: "s", Data: []byte("y")}))
	assert.Equal(t, 3, calls)
}

func TestMemIdemExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mi := NewMemIdem(time.Second).(*memIdem)
	mi.now = func() time.Time { return now }

	seen, _ := mi.SeenOnce(context.Background(), "k", 0)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce(context.Background(), "k", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = mi.SeenOnce(context.Background(), "k", 0)
	assert.False(t, seen)
}

type orderCall struct {
	kind string
	o    *ordermodel.Order
}

type fakeSink struct {
	mu    sync.Mutex
	calls []orderCall
}

func (f *fakeSink) EmitOrderCreated(_ context.Context, o *ordermodel.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderCall{"created", o})
}

func (f *fakeSink) EmitOrderUpdated(_ context.Context, o *ordermodel.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderCall{"updated", o})
}

func TestOrderBridgeHandler(t *testing.T) {
	sink := &fakeSink{}
	b := NewOrderBridge(sink)
	ctx := context.Background()

	data := []byte(`{"orderId":"o1","userId":"C1","vendorId":"V1","status":"paid"}`)
	require.NoError(t, b.handler(BizOrderCreated)(ctx, NatsxMessage{Data: data}))
	require.NoError(t, b.handler(BizOrderUpdated)(ctx, NatsxMessage{Data: data}))

	// 坏消息被丢弃，不返回错误
	require.NoError(t, b.handler(BizOrderCreated)(ctx, NatsxMessage{Data: []byte(`{"orderId":""}`)}))
	require.NoError(t, b.handler(BizOrderCreated)(ctx, NatsxMessage{Data: []byte(`nope`)}))

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "created", sink.calls[0].kind)
	assert.Equal(t, "updated", sink.calls[1].kind)
	assert.Equal(t, &ordermodel.Order{ID: "o1", UserID: "C1", VendorID: "V1", Status: "paid"}, sink.calls[0].o)
}

func TestDecodeOrder(t *testing.T) {
	_, err := decodeOrder([]byte(`{"orderId":"o1"}`))
	assert.True(t, errors.Is(err, errs.ErrInvalidPayload))
}

type fakePublisher struct {
	fails int
	biz   []string
	ids   []string
	data  [][]byte
}

func (f *fakePublisher) PublishOnce(_ context.Context, biz string, data []byte, _ map[string]string, msgID string) error {
	f.biz = append(f.biz, biz)
	f.ids = append(f.ids, msgID)
	f.data = append(f.data, data)
	if f.fails > 0 {
		f.fails--
		return errors.New("no responders")
	}
	return nil
}

func TestOrderPublisherRetriesWithSameID(t *testing.T) {
	fp := &fakePublisher{fails: 2}
	p := &OrderPublisher{sp: &NatsxSyncPublisher{P: fp, Retries: 3, Backoff: time.Millisecond}}
	o := &ordermodel.Order{ID: "o1", UserID: "C1", Status: "shipped", UpdatedAt: time.Unix(10, 0)}

	require.NoError(t, p.OrderUpdated(context.Background(), o))
	require.Len(t, fp.ids, 3)
	assert.Equal(t, fp.ids[0], fp.ids[2])
	assert.Equal(t, BizOrderUpdated, fp.biz[0])

	var got ordermodel.Order
	require.NoError(t, json.Unmarshal(fp.data[0], &got))
	assert.Equal(t, "o1", got.ID)
}

func TestOrderPublisherGivesUp(t *testing.T) {
	fp := &fakePublisher{fails: 10}
	p := &OrderPublisher{sp: &NatsxSyncPublisher{P: fp, Retries: 2, Backoff: time.Millisecond}}
	err := p.OrderCreated(context.Background(), &ordermodel.Order{ID: "o1", UserID: "C1"})
	assert.Error(t, err)
	assert.Len(t, fp.ids, 3)
}

func TestManagerNil(t *testing.T) {
	var m *NatsManager
	assert.True(t, errors.Is(m.Publish(context.Background(), "x", nil, nil), errs.ErrUnavailable))
	assert.NoError(t, m.Close())
	assert.False(t, m.Connected())
}
