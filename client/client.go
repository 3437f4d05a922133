package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"PShop/logger"
	"PShop/service/chat/protocol"
	"PShop/tools/errs"
	"PShop/tools/safe"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrClosed       = errors.New("client: closed")
)

// RemoteError is a failed ack returned by the gateway.
type RemoteError struct {
	protocol.ErrorBody
}

func (e *RemoteError) Error() string {
	return e.Event + ": " + e.Code + ": " + e.Message
}

// Handler receives the raw data of one event. Handlers run on the read goroutine
// and must not block; calling Request from a handler deadlocks.
type Handler func(data json.RawMessage)

type HandlerID uint64

type entry struct {
	id HandlerID
	h  Handler
}

// Client owns one gateway connection for a UI surface. It re-announces its
// identity after every connect and reconnects with bounded backoff.
type Client struct {
	cfg    Config
	ident  Identity
	dialer websocket.Dialer
	log    *zap.Logger

	life context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	closeOnce sync.Once

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]entry
	nextHID  HandlerID

	pmu     sync.Mutex
	pending map[uint64]chan protocol.Envelope
	ackSeq  atomic.Uint64
}

func New(cfg Config, ident Identity) *Client {
	life, stop := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		ident:    ident,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:      logger.Named("client").With(zap.String("user", ident.UserID)),
		life:     life,
		stop:     stop,
		handlers: make(map[string][]entry),
		pending:  make(map[uint64]chan protocol.Envelope),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

// Connect dials and announces the identity, retrying under the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateDisconnected:
		c.state = StateConnecting
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.connectWithRetry(ctx, StateConnecting)
	if err != nil {
		c.setState(StateDisconnected)
	}
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	if !c.cfg.Reconnect || c.cfg.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.MinDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxAttempts-1), ctx)
}

func (c *Client) connectWithRetry(ctx context.Context, between State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		if c.life.Err() != nil {
			return backoff.Permanent(ErrClosed)
		}
		err := c.connectOnce(ctx)
		var re *RemoteError
		if errors.As(err, &re) {
			// 身份被拒绝，重试没有意义
			return backoff.Permanent(err)
		}
		if err != nil {
			c.setState(between)
		}
		return err
	}, c.policy(ctx), func(err error, d time.Duration) {
		c.log.Info("connect failed, retrying", zap.Int("attempt", attempt), zap.Duration("in", d), zap.Error(err))
	})
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", errs.WrapMsg(err, "parse url", "url", c.cfg.URL)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	target, err := c.endpoint()
	if err != nil {
		return backoff.Permanent(err)
	}
	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return errs.WrapMsg(err, "dial", "url", c.cfg.URL)
	}
	if err := c.attach(ws); err != nil {
		return err
	}
	if _, err := c.Request(ctx, protocol.EvJoinUser, c.ident); err != nil {
		c.detach(ws)
		return err
	}

	c.mu.Lock()
	if c.conn != ws || c.state == StateClosed {
		// 握手期间断开，交给外层重试
		c.mu.Unlock()
		c.detach(ws)
		return ErrNotConnected
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Debug("connected")
	c.dispatch(EventConnect, nil)
	return nil
}

// attach makes ws the current socket. The state stays Connecting/Reconnecting
// until join-user is acked.
func (c *Client) attach(ws *websocket.Conn) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = ws.Close()
		return backoff.Permanent(ErrClosed)
	}
	c.conn = ws
	c.mu.Unlock()

	c.extend(ws)
	ws.SetPingHandler(func(data string) error {
		c.extend(ws)
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		var ne net.Error
		if err == websocket.ErrCloseSent || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})
	safe.Go("client-read", func() { c.readLoop(ws) })
	return nil
}

func (c *Client) extend(ws *websocket.Conn) {
	if c.cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// detach drops ws without triggering the disconnect path.
func (c *Client) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.conn == ws {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.lost(ws, err)
			return
		}
		c.extend(ws)
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("bad frame from gateway", zap.Error(err))
			continue
		}
		if env.Event == protocol.EvAck {
			c.resolve(env)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) lost(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != ws {
		// 已被 Close 或 detach
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.state != StateConnected {
		// 握手未完成：connectOnce 收到错误后自己重试
		c.mu.Unlock()
		_ = ws.Close()
		c.failPending()
		return
	}
	c.state = StateDisconnected
	if c.cfg.Reconnect {
		c.state = StateReconnecting
	}
	c.mu.Unlock()
	_ = ws.Close()

	c.failPending()
	c.log.Info("connection lost", zap.Error(cause))
	c.dispatch(EventDisconnect, nil)
	if c.cfg.Reconnect {
		safe.Go("client-reconnect", c.reconnect)
	}
}

func (c *Client) reconnect() {
	err := c.connectWithRetry(c.life, StateReconnecting)
	if err == nil || c.life.Err() != nil {
		return
	}
	c.setState(StateDisconnected)
	c.log.Warn("reconnect gave up", zap.Error(err))
	c.dispatch(EventReconnectFailed, nil)
}

func (c *Client) write(f protocol.Frame) error {
	c.mu.Lock()
	ws, st := c.conn, c.state
	c.mu.Unlock()
	if st == StateClosed {
		return ErrClosed
	}
	if ws == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(f)
	if err != nil {
		return errs.WrapMsg(err, "marshal", "event", f.Event)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return errs.WrapMsg(ws.WriteMessage(websocket.TextMessage, b), "write", "event", f.Event)
}

// Emit sends an event without waiting for an ack.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(protocol.Frame{Event: event, Data: payload})
}

// Request sends an event with an ack id and waits for the ack data.
// A failed ack comes back as *RemoteError.
func (c *Client) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	id := c.ackSeq.Add(1)
	ch := make(chan protocol.Envelope, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.write(protocol.Frame{Event: event, AckID: id, Data: payload}); err != nil {
		return nil, err
	}
	select {
	case env, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if env.Error != nil {
			return nil, &RemoteError{ErrorBody: *env.Error}
		}
		return env.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) resolve(env protocol.Envelope) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if ch, ok := c.pending[env.AckID]; ok {
		delete(c.pending, env.AckID)
		ch <- env
	}
}

func (c *Client) failPending() {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// On registers h for event and returns an id for Off.
func (c *Client) On(event string, h Handler) HandlerID {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextHID++
	c.handlers[event] = append(c.handlers[event], entry{id: c.nextHID, h: h})
	return c.nextHID
}

func (c *Client) Off(event string, id HandlerID) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	list := c.handlers[event]
	for i, e := range list {
		if e.id == id {
			c.handlers[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.hmu.RLock()
	list := append([]entry(nil), c.handlers[event]...)
	c.hmu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, e := range list {
		h := e.h
		_ = safe.Call("client-handler:"+event, func() error {
			h(data)
			return nil
		})
	}
}

// Close releases the connection, fails pending requests and drops every handler.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop()
		c.mu.Lock()
		ws := c.conn
		c.conn = nil
		c.state = StateClosed
		c.mu.Unlock()

		if ws != nil {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close"),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			err = ws.Close()
		}
		c.failPending()

		c.hmu.Lock()
		c.handlers = make(map[string][]entry)
		c.hmu.Unlock()
	})
	return err
}
