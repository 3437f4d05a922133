package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PShop/global/config"
	"PShop/service/chat"
	"PShop/service/chat/protocol"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func startGateway(t *testing.T) (*chat.Server, string) {
	t.Helper()
	gw := config.Default().Gateway
	gw.EventsPerSec = 0
	s := chat.NewServer(chat.Options{Gateway: gw})
	s.Start()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", s.HandleWS(nil))
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, wsURL(ts.URL)
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.RequestTimeout = 2 * time.Second
	cfg.MinDelay = 10 * time.Millisecond
	cfg.MaxDelay = 40 * time.Millisecond
	cfg.MaxAttempts = 3
	return cfg
}

func newClient(t *testing.T, url string, ident Identity) *Client {
	t.Helper()
	c := New(testConfig(url), ident)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(context.Background()))
	return c
}

// collect forwards event payloads into a channel.
func collect(c *Client, event string) (<-chan json.RawMessage, HandlerID) {
	ch := make(chan json.RawMessage, 16)
	id := c.On(event, func(data json.RawMessage) { ch <- data })
	return ch, id
}

func TestConnectAnnouncesIdentity(t *testing.T) {
	s, url := startGateway(t)
	c := newClient(t, url, Identity{UserID: "u1", Role: "client", Name: "Ann"})
	assert.True(t, c.Connected())
	assert.Equal(t, StateConnected, c.State())

	users, err := s.OnlineUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestMessageBetweenClients(t *testing.T) {
	_, url := startGateway(t)
	alice := newClient(t, url, Identity{UserID: "alice", Role: "client", Name: "Alice"})
	bob := newClient(t, url, Identity{UserID: "bob", Role: "vendor", Name: "Bob"})

	got, _ := collect(bob, protocol.EvReceiveMessage)
	data, err := alice.Request(context.Background(), protocol.EvSendMessage, protocol.SendMessage{
		ChatID: "c1", Message: "hi", RecipientID: "bob",
	})
	require.NoError(t, err)

	var acked struct {
		ID       string `json:"id"`
		SenderID string `json:"senderId"`
	}
	require.NoError(t, json.Unmarshal(data, &acked))
	assert.NotEmpty(t, acked.ID)
	assert.Equal(t, "alice", acked.SenderID)

	select {
	case raw := <-got:
		assert.Contains(t, string(raw), `"message":"hi"`)
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not receive the message")
	}
}

func TestFailedAckIsRemoteError(t *testing.T) {
	_, url := startGateway(t)
	c := newClient(t, url, Identity{UserID: "u1", Role: "client", Name: "Uma"})

	_, err := c.Request(context.Background(), protocol.EvSendMessage, map[string]any{"chatId": "c1"})
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "invalid_payload", re.Code)
	assert.Equal(t, protocol.EvSendMessage, re.Event)
}

func TestOffStopsDelivery(t *testing.T) {
	c := New(testConfig("ws://unused"), Identity{UserID: "u"})
	var calls []string
	first := c.On("x", func(json.RawMessage) { calls = append(calls, "first") })
	c.On("x", func(json.RawMessage) { calls = append(calls, "second") })

	c.dispatch("x", nil)
	assert.Equal(t, []string{"first", "second"}, calls)

	c.Off("x", first)
	calls = nil
	c.dispatch("x", nil)
	assert.Equal(t, []string{"second"}, calls)
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	c := New(testConfig("ws://unused"), Identity{UserID: "u"})
	hit := false
	c.On("x", func(json.RawMessage) { panic("boom") })
	c.On("x", func(json.RawMessage) { hit = true })
	c.dispatch("x", nil)
	assert.True(t, hit)
}

func TestEmitBeforeConnect(t *testing.T) {
	c := New(testConfig("ws://unused"), Identity{UserID: "u"})
	assert.ErrorIs(t, c.Emit(context.Background(), protocol.EvTyping, nil), ErrNotConnected)
}

func TestCloseClearsHandlers(t *testing.T) {
	_, url := startGateway(t)
	c := newClient(t, url, Identity{UserID: "u1", Role: "client", Name: "Uma"})
	disconnects, _ := collect(c, EventDisconnect)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Emit(context.Background(), protocol.EvTyping, nil), ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)

	c.hmu.RLock()
	assert.Empty(t, c.handlers)
	c.hmu.RUnlock()
	select {
	case <-disconnects:
		t.Fatal("disconnect fired after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeGateway acks every frame and drops the first connection after join-user,
// waiting for kick when it is set.
type fakeGateway struct {
	mu    sync.Mutex
	joins int
	drop  bool
	kick  chan struct{}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	for {
		var f protocol.Envelope
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		_ = ws.WriteJSON(protocol.Frame{Event: protocol.EvAck, AckID: f.AckID, Data: protocol.OK{OK: true}})
		if f.Event != protocol.EvJoinUser {
			continue
		}
		g.mu.Lock()
		g.joins++
		drop := g.drop
		g.drop = false
		g.mu.Unlock()
		if drop {
			if g.kick != nil {
				<-g.kick
			}
			return
		}
	}
}

func (g *fakeGateway) joinCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.joins
}

func TestReconnectReannounces(t *testing.T) {
	g := &fakeGateway{drop: true, kick: make(chan struct{})}
	ts := httptest.NewServer(g)
	defer ts.Close()

	c := New(testConfig(wsURL(ts.URL)), Identity{UserID: "u1"})
	defer c.Close()
	connects, _ := collect(c, EventConnect)
	disconnects, _ := collect(c, EventDisconnect)
	require.NoError(t, c.Connect(context.Background()))
	// 握手完成后再断开
	close(g.kick)

	for _, ch := range []<-chan json.RawMessage{connects, disconnects, connects} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("missing lifecycle event")
		}
	}
	assert.Equal(t, 2, g.joinCount())
	assert.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)
}

// flakyJoinGateway hangs up on the first join-user without acking it and acks
// everything on later sockets.
type flakyJoinGateway struct {
	dials  atomic.Int32
	open   atomic.Int32
	onJoin func()
}

func (g *flakyJoinGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n := g.dials.Add(1)
	g.open.Add(1)
	defer g.open.Add(-1)
	defer ws.Close()
	for {
		var f protocol.Envelope
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == protocol.EvJoinUser && g.onJoin != nil {
			g.onJoin()
		}
		if f.Event == protocol.EvJoinUser && n == 1 {
			return
		}
		_ = ws.WriteJSON(protocol.Frame{Event: protocol.EvAck, AckID: f.AckID, Data: protocol.OK{OK: true}})
	}
}

func TestDropDuringHandshakeRetriesOnce(t *testing.T) {
	g := &flakyJoinGateway{}
	ts := httptest.NewServer(g)
	defer ts.Close()

	c := New(testConfig(wsURL(ts.URL)), Identity{UserID: "u1"})
	defer c.Close()
	var mu sync.Mutex
	var during []State
	g.onJoin = func() {
		mu.Lock()
		during = append(during, c.State())
		mu.Unlock()
	}
	connects, _ := collect(c, EventConnect)
	disconnects, _ := collect(c, EventDisconnect)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(2), g.dials.Load())
	assert.Equal(t, int32(1), g.open.Load())
	assert.Len(t, connects, 1)
	assert.Len(t, disconnects, 0)
	assert.Equal(t, StateConnected, c.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, during, 2)
	for _, st := range during {
		assert.Equal(t, StateConnecting, st)
	}
}

func TestReconnectFailed(t *testing.T) {
	g := &fakeGateway{drop: true, kick: make(chan struct{})}
	ts := httptest.NewServer(g)

	c := New(testConfig(wsURL(ts.URL)), Identity{UserID: "u1"})
	defer c.Close()
	failed, _ := collect(c, EventReconnectFailed)
	require.NoError(t, c.Connect(context.Background()))

	// 先关掉监听再断开，之后的重连全部失败
	_ = ts.Listener.Close()
	close(g.kick)
	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect_failed not fired")
	}
	assert.Equal(t, StateDisconnected, c.State())
	ts.Close()
}

func TestConnectFailsWithoutServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(ts.URL)
	ts.Close()

	cfg := testConfig(url)
	cfg.MaxAttempts = 2
	c := New(cfg, Identity{UserID: "u1"})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
}
