package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PShop/global/config"
	chatmodel "PShop/module/chat/model"
	"PShop/service/chat/protocol"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate ...func(*Options)) *Server {
	t.Helper()
	gw := config.Default().Gateway
	gw.EventsPerSec = 0
	opts := Options{
		Gateway: gw,
		Now:     func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	s := NewServer(opts)
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func attach(t *testing.T, s *Server) *Conn {
	t.Helper()
	c, err := s.Attach(context.Background(), "test")
	require.NoError(t, err)
	return c
}

func send(t *testing.T, s *Server, c *Conn, event string, data any, ackID uint64) {
	t.Helper()
	raw, err := json.Marshal(protocol.Frame{Event: event, Data: data, AckID: ackID})
	require.NoError(t, err)
	s.Receive(context.Background(), c, raw)
}

func flush(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

// drain returns everything queued for c so far.
func drain(t *testing.T, c *Conn) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case b := <-c.Outbound():
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(b, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func only(frames []protocol.Envelope, event string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func decodeData[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// join attaches a connection, identifies it and discards the frames it produced.
func join(t *testing.T, s *Server, userID, role, name string) *Conn {
	t.Helper()
	c := attach(t, s)
	send(t, s, c, protocol.EvJoinUser, map[string]any{"userId": userID, "role": role, "name": name}, 0)
	flush(t, s)
	require.Equal(t, StateIdentified, c.State())
	return c
}

func drainAll(t *testing.T, conns ...*Conn) {
	t.Helper()
	for _, c := range conns {
		drain(t, c)
	}
}

type memSink struct {
	mu   sync.Mutex
	msgs []*chatmodel.Message
}

func (m *memSink) Publish(msg *chatmodel.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *memSink) all() []*chatmodel.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*chatmodel.Message(nil), m.msgs...)
}

func TestAttachAndDisconnect(t *testing.T) {
	s := newTestServer(t)
	c := attach(t, s)
	assert.Equal(t, StateAnonymous, c.State())
	assert.NotEmpty(t, c.ID())

	s.Disconnect(c)
	flush(t, s)
	assert.Equal(t, StateDisconnected, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("conn not released")
	}
}

func TestEmitToAbsentUserIsNoop(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "a", "client", "Alice")
	drainAll(t, a)

	require.NoError(t, s.EmitToUser(context.Background(), "ghost", "anything", map[string]any{"x": 1}))
	require.NoError(t, s.EmitToSession(context.Background(), "no-such-chat", "anything", nil))
	flush(t, s)
	assert.Empty(t, drain(t, a))
}

func TestEmitToRole(t *testing.T) {
	s := newTestServer(t)
	v1 := join(t, s, "v1", "vendor", "Shop 1")
	v2 := join(t, s, "v2", "vendor", "Shop 2")
	c := join(t, s, "c1", "client", "Carl")
	drainAll(t, v1, v2, c)

	require.NoError(t, s.EmitToRole(context.Background(), "vendor", "promo", map[string]any{"id": "p1"}))
	flush(t, s)
	assert.Len(t, only(drain(t, v1), "promo"), 1)
	assert.Len(t, only(drain(t, v2), "promo"), 1)
	assert.Empty(t, drain(t, c))
}

func TestPresenceSizeRestoredAfterDisconnect(t *testing.T) {
	s := newTestServer(t)
	before, err := s.OnlineUsers(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c := join(t, s, "u1", "client", "U")
		s.Disconnect(c)
		flush(t, s)
	}
	after, err := s.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, 0, s.presence.Len())
}

func TestDisconnectRunsOnce(t *testing.T) {
	s := newTestServer(t)
	obs := join(t, s, "obs", "vendor", "Observer")
	a := join(t, s, "a", "client", "Alice")
	drainAll(t, obs, a)

	s.Disconnect(a)
	s.Disconnect(a)
	flush(t, s)
	assert.Len(t, only(drain(t, obs), protocol.EvUserOffline), 1)
}

func TestDisconnectWaitsForBusyLoop(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Gateway.LoopQueue = 1 })
	obs := join(t, s, "obs", "vendor", "Observer")
	a := join(t, s, "a", "client", "Alice")
	drainAll(t, obs, a)

	gate, busy := make(chan struct{}), make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(gate) }) }
	defer open()
	require.NoError(t, s.submit(context.Background(), func() { close(busy); <-gate }))
	<-busy
	require.NoError(t, s.submit(context.Background(), func() {}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Disconnect(a)
	}()
	select {
	case <-done:
		t.Fatal("disconnect returned while the loop queue was full")
	case <-time.After(200 * time.Millisecond):
	}

	open()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never queued")
	}
	flush(t, s)
	assert.Len(t, only(drain(t, obs), protocol.EvUserOffline), 1)
	assert.Equal(t, 1, s.presence.Len())
}

func TestDisconnectAfterStopReturns(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "a", "client", "Alice")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Disconnect(a)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect blocked after stop")
	}
}

func TestEventsAfterDisconnectIgnored(t *testing.T) {
	s := newTestServer(t)
	b := join(t, s, "b", "client", "Bob")
	a := join(t, s, "a", "client", "Alice")
	drainAll(t, a, b)

	s.Disconnect(a)
	send(t, s, a, protocol.EvSendMessage, map[string]any{"chatId": "c1", "message": "hi", "recipientId": "b"}, 0)
	flush(t, s)
	assert.Empty(t, only(drain(t, b), protocol.EvReceiveMessage))
}

func TestStopReleasesConnections(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "a", "client", "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())
	assert.Equal(t, StateDisconnected, a.State())

	_, err := s.Attach(context.Background(), "late")
	assert.Error(t, err)
	assert.Error(t, s.EmitToUser(context.Background(), "a", "x", nil))
}
