package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PShop/global/config"
	"PShop/logger"
	"PShop/service/chat/protocol"
	"PShop/tools/errs"
	"PShop/tools/ids"
	"PShop/tools/safe"
)

type Options struct {
	Gateway   config.GatewayConfig
	Sink      MessageSink    // optional
	Mirror    PresenceMirror // optional
	Directory Directory      // optional
	Metrics   *Metrics       // optional
	NewID     func() string  // message ids, default snowflake
	Now       func() time.Time
}

// Server 单进程事件路由：presence 与频道成员表只由 loop 协程修改。
type Server struct {
	conf     config.GatewayConfig
	presence *Presence
	rooms    *Rooms
	disp     *Dispatcher
	conns    map[string]*Conn // loop-owned

	sink    MessageSink
	mirror  PresenceMirror
	dir     Directory
	metrics *Metrics
	newID   func() string
	now     func() time.Time

	jobs     chan func()
	mirrorq  chan func(context.Context)
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	wg       sync.WaitGroup
	log      *zap.Logger
}

func NewServer(opts Options) *Server {
	gw := opts.Gateway
	def := config.Default().Gateway
	if gw.SendQueue <= 0 {
		gw.SendQueue = def.SendQueue
	}
	if gw.LoopQueue <= 0 {
		gw.LoopQueue = def.LoopQueue
	}
	s := &Server{
		conf:     gw,
		presence: NewPresence(),
		rooms:    NewRooms(),
		disp:     NewDispatcher(),
		conns:    make(map[string]*Conn),
		sink:     opts.Sink,
		mirror:   opts.Mirror,
		dir:      opts.Directory,
		metrics:  opts.Metrics,
		newID:    opts.NewID,
		now:      opts.Now,
		jobs:     make(chan func(), gw.LoopQueue),
		mirrorq:  make(chan func(context.Context), 1024),
		stopCh:   make(chan struct{}),
		log:      logger.Named("gateway"),
	}
	if s.newID == nil {
		s.newID = ids.GenerateString
	}
	if s.now == nil {
		s.now = time.Now
	}
	registerHandlers(s.disp)
	return s
}

func (s *Server) Disp() *Dispatcher { return s.disp }

// Start launches the event loop and the presence mirror worker.
func (s *Server) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(2)
	go s.loop()
	go s.mirrorWorker()
	s.log.Info("gateway started", zap.Int("loop_queue", cap(s.jobs)), zap.Int("send_queue", s.conf.SendQueue))
}

// Stop releases every connection and stops the loop. Pending jobs are dropped.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	_ = s.call(ctx, func() {
		for _, c := range s.conns {
			c.release()
			s.cleanup(c)
		}
	})
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)
	})
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		s.log.Info("gateway stopped")
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err())
	}
}

func (s *Server) Running() bool { return s.running.Load() }

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.jobs:
			s.runJob(job)
		}
	}
}

func (s *Server) runJob(job func()) {
	defer safe.Recover("gateway-loop", nil)
	job()
}

// submit queues f on the loop. It blocks while the loop queue is full.
func (s *Server) submit(ctx context.Context, f func()) error {
	if !s.running.Load() {
		return errs.ErrUnavailable.WrapMsg("gateway not running")
	}
	select {
	case s.jobs <- f:
		return nil
	case <-s.stopCh:
		return errs.ErrUnavailable.WrapMsg("gateway stopped")
	case <-ctx.Done():
		return errs.Wrap(ctx.Err())
	}
}

// call runs f on the loop and waits for it.
func (s *Server) call(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if err := s.submit(ctx, func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.stopCh:
		return errs.ErrUnavailable.WrapMsg("gateway stopped")
	case <-ctx.Done():
		return errs.Wrap(ctx.Err())
	}
}

// Flush waits until every job queued before it has run.
func (s *Server) Flush(ctx context.Context) error {
	return s.call(ctx, func() {})
}

// ---- connection lifecycle ----

// Attach registers a connection without a websocket; frames are read from Conn.Outbound.
func (s *Server) Attach(ctx context.Context, remote string) (*Conn, error) {
	return s.register(ctx, nil, remote)
}

func (s *Server) register(ctx context.Context, ws *websocket.Conn, remote string) (*Conn, error) {
	var limiter *rate.Limiter
	if s.conf.EventsPerSec > 0 {
		burst := s.conf.EventBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.conf.EventsPerSec), burst)
	}
	c := newConn(uuid.NewString(), remote, s.conf.SendQueue, limiter, s.metrics)
	c.ws = ws
	if err := s.submit(ctx, func() {
		s.conns[c.id] = c
		if s.metrics != nil {
			s.metrics.connections.Set(float64(len(s.conns)))
		}
	}); err != nil {
		return nil, err
	}
	s.log.Debug("connection attached", zap.String("conn", c.id), zap.String("remote", remote))
	return c, nil
}

// Disconnect runs the leave path once per connection; later calls are no-ops.
func (s *Server) Disconnect(c *Conn) {
	if !c.release() {
		return
	}
	// 不设超时：队列满时等待，否则 presence 会残留；Stop 会统一清理
	if err := s.submit(context.Background(), func() { s.cleanup(c) }); err != nil {
		s.log.Debug("disconnect after stop", zap.String("conn", c.id), zap.Error(err))
	}
}

// cleanup runs on the loop.
func (s *Server) cleanup(c *Conn) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	s.rooms.LeaveAll(c)
	if e, ok := s.presence.RecordLeave(c.id); ok {
		s.emitAll(protocol.EvUserOffline, protocol.Presence{UserID: e.UserID, Name: e.Name, Role: e.Role, Online: false})
		s.mirrorOffline(e.UserID)
		s.log.Info("user offline", zap.String("user", e.UserID), zap.String("conn", c.id))
	}
	if s.metrics != nil {
		s.metrics.connections.Set(float64(len(s.conns)))
		s.metrics.online.Set(float64(s.presence.Len()))
	}
}

// ---- inbound ----

// Receive handles one raw client frame. Decoding happens on the caller's goroutine,
// the handler itself on the loop, so frames of one connection keep their order.
func (s *Server) Receive(ctx context.Context, c *Conn, raw []byte) {
	if c.State() == StateDisconnected {
		return
	}
	in, err := protocol.ParseFrame(raw)
	if err != nil {
		s.rejectAsync(ctx, c, "", 0, errs.ErrInvalidPayload.WrapMsg(err.Error()))
		return
	}
	if !c.allow() {
		s.rejectAsync(ctx, c, in.Event, in.AckID, errs.ErrRateLimited.Wrap())
		return
	}
	h := s.disp.GetHandler(in.Event)
	if h == nil {
		s.rejectAsync(ctx, c, in.Event, in.AckID, errs.ErrUnknownEvent.WrapMsg("no handler", "event", in.Event))
		return
	}

	var payload any
	err = safe.Call("prepare "+in.Event, func() error {
		var perr error
		payload, perr = h.Prepare(ctx, s, in.Data)
		return perr
	})
	if err != nil {
		s.rejectAsync(ctx, c, in.Event, in.AckID, err)
		return
	}
	if err := s.submit(ctx, func() { s.run(ctx, c, h, in.AckID, payload) }); err != nil {
		s.log.Warn("event dropped", zap.String("conn", c.id), zap.String("event", in.Event), zap.Error(err))
	}
}

// run executes a prepared event on the loop.
func (s *Server) run(ctx context.Context, c *Conn, h *Handler, ackID uint64, payload any) {
	if _, ok := s.conns[c.id]; !ok || c.State() == StateDisconnected {
		return
	}
	if h.NeedIdentity && c.State() != StateIdentified {
		s.reject(c, h.Event, ackID, errs.ErrNotJoined.Wrap())
		return
	}
	var result any
	err := safe.Call("handle "+h.Event, func() error {
		var herr error
		result, herr = h.Handle(&Context{S: s, Conn: c, Ctx: ctx, Event: h.Event}, payload)
		return herr
	})
	if err != nil {
		s.reject(c, h.Event, ackID, err)
		return
	}
	s.metrics.event(h.Event, "ok")
	switch {
	case ackID > 0:
		if result == nil {
			result = protocol.OK{OK: true}
		}
		b, err := protocol.EncodeAck(ackID, result)
		if err != nil {
			s.log.Error("encode ack", zap.String("event", h.Event), zap.Error(err))
			return
		}
		c.enqueue(b)
	case h.Reply != "" && result != nil:
		s.emitToConn(c, h.Reply, result)
	}
}

func (s *Server) rejectAsync(ctx context.Context, c *Conn, event string, ackID uint64, err error) {
	if serr := s.submit(ctx, func() { s.reject(c, event, ackID, err) }); serr != nil {
		s.log.Debug("reject dropped", zap.String("conn", c.id), zap.Error(serr))
	}
}

// reject answers with an error frame; with an ackId a failed ack follows.
func (s *Server) reject(c *Conn, event string, ackID uint64, err error) {
	ce, _ := errs.AsCode(err)
	label := event
	if s.disp.GetHandler(event) == nil {
		label = "unknown"
	}
	s.metrics.event(label, ce.Reason)
	if ce.Code == errs.ServerInternalError {
		s.log.Error("event failed", zap.String("conn", c.id), zap.String("event", event), zap.Error(err))
	} else {
		s.log.Debug("event rejected", zap.String("conn", c.id), zap.String("event", event), zap.String("code", ce.Reason), zap.String("detail", ce.Detail))
	}
	msg := ce.Detail
	if msg == "" || ce.Code == errs.ServerInternalError {
		msg = ce.Reason
	}
	body := protocol.ErrorBody{Event: event, Code: ce.Reason, Message: msg}
	s.emitToConn(c, protocol.EvError, body)
	if ackID > 0 {
		if b, err := protocol.EncodeAckError(ackID, body); err == nil {
			c.enqueue(b)
		}
	}
}

// ---- outbound helpers (loop only) ----

func (s *Server) emitToConn(c *Conn, event string, payload any) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		s.log.Error("encode", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(b)
}

// emitAll reaches every open connection, joined or not.
func (s *Server) emitAll(event string, payload any) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		s.log.Error("encode", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range s.conns {
		c.enqueue(b)
	}
}

// ---- thread-safe triggers ----

func (s *Server) EmitToUser(ctx context.Context, userID, event string, payload any) error {
	return s.submit(ctx, func() { s.rooms.EmitToUser(userID, event, payload) })
}

func (s *Server) EmitToRole(ctx context.Context, role, event string, payload any) error {
	return s.submit(ctx, func() { s.rooms.EmitToRole(role, event, payload) })
}

func (s *Server) EmitToSession(ctx context.Context, sessionID, event string, payload any) error {
	return s.submit(ctx, func() { s.rooms.EmitToSession(sessionID, event, payload) })
}

// OnlineUsers returns the presence snapshot.
func (s *Server) OnlineUsers(ctx context.Context) ([]protocol.OnlineUser, error) {
	var out []protocol.OnlineUser
	if err := s.call(ctx, func() { out = s.presence.ListOnline() }); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- presence mirror ----

func (s *Server) mirrorOnline(userID, role, name, connID string) {
	if s.mirror == nil {
		return
	}
	s.pushMirror(func(ctx context.Context) error { return s.mirror.Online(ctx, userID, role, name, connID) })
}

func (s *Server) mirrorOffline(userID string) {
	if s.mirror == nil {
		return
	}
	s.pushMirror(func(ctx context.Context) error { return s.mirror.Offline(ctx, userID) })
}

func (s *Server) pushMirror(f func(ctx context.Context) error) {
	job := func(ctx context.Context) {
		if err := f(ctx); err != nil {
			s.log.Warn("presence mirror", zap.Error(err))
		}
	}
	select {
	case s.mirrorq <- job:
	default:
		s.log.Warn("presence mirror queue full, update dropped")
	}
}

// mirrorWorker applies mirror updates in loop order, off the loop.
func (s *Server) mirrorWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.mirrorq:
			func() {
				defer safe.Recover("presence-mirror", nil)
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				job(ctx)
			}()
		}
	}
}
