package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PShop/tools/errs"
	"PShop/tools/safe"
)

// Authenticator resolves the ?token= query of the upgrade request to a user id.
type Authenticator func(token string) (userID string, err error)

// ---- 常量参数（建议值） ----
const (
	firstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时；不超过 PingInterval
)

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.conf.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// HandleWS upgrades GET /ws and serves the connection until it closes.
func (s *Server) HandleWS(auth Authenticator) gin.HandlerFunc {
	up := s.upgrader()
	return func(c *gin.Context) {
		var authUser string
		if auth != nil {
			uid, err := auth(c.Query("token"))
			if err != nil {
				ce, _ := errs.AsCode(err)
				s.log.Info("ws auth rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, ce)
				return
			}
			authUser = uid
		}

		ws, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 常见：非 WebSocket 请求/握手失败
			s.log.Info("upgrade websocket", zap.Error(err))
			return
		}
		conn, err := s.register(c.Request.Context(), ws, c.ClientIP())
		if err != nil {
			s.log.Warn("register connection", zap.Error(err))
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "gateway unavailable"),
				time.Now().Add(time.Second))
			_ = ws.Close()
			return
		}
		conn.authUser = authUser

		done := make(chan struct{})
		safe.Go("ws-writer", func() {
			defer close(done)
			s.writePump(conn)
		})
		s.readPump(conn)
		s.Disconnect(conn)
		<-done // 等写协程真正关闭 ws
	}
}

// readPump 读循环：只读不写，出错即退出。
func (s *Server) readPump(c *Conn) {
	ws := c.ws
	if s.conf.MaxFrameBytes > 0 {
		ws.SetReadLimit(s.conf.MaxFrameBytes)
	}
	pongWait := s.conf.PongWait
	if pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("peer closed", zap.String("conn", c.id))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("conn", c.id), zap.String("user", c.authUser))
			} else {
				s.log.Debug("read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if pongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		}
		s.Receive(ctx, c, data)
	}
}

// writePump drains the send queue and pings on an interval.
// It owns the socket close.
func (s *Server) writePump(c *Conn) {
	ws := c.ws
	writeWait := s.conf.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	interval := s.conf.PingInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	first := time.NewTimer(min(firstPingDelay, interval))
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		s.Disconnect(c)
		s.log.Debug("ws closed", zap.String("conn", c.id))
	}()

	ping := func() bool {
		if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
			s.log.Debug("ping", zap.String("conn", c.id), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-c.Done():
			s.drain(c, writeWait)
			return
		case payload := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("write", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-first.C:
			if !ping() {
				return
			}
		case <-ticker.C:
			if !ping() {
				return
			}
		}
	}
}

// drain flushes frames queued before the connection was released.
func (s *Server) drain(c *Conn, writeWait time.Duration) {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
