package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	chatmodel "PShop/module/chat/model"
	usermodel "PShop/module/user/model"
	"PShop/service/chat/protocol"
	"PShop/tools/decode"
	"PShop/tools/errs"
)

func registerHandlers(d *Dispatcher) {
	d.Register(joinUserHandler())
	d.Register(typed(protocol.EvJoinChat, true, handleJoinChat))
	d.Register(typed(protocol.EvLeaveChat, true, handleLeaveChat))
	d.Register(typed(protocol.EvSendMessage, true, handleSendMessage))
	d.Register(typed(protocol.EvTyping, true, typingHandler(protocol.EvUserTyping)))
	d.Register(typed(protocol.EvStopTyping, true, typingHandler(protocol.EvUserStopTyping)))
	d.Register(typed(protocol.EvMarkRead, true, handleMarkRead))
	d.Register(typed(protocol.EvOrderPaid, true, handleOrderPaid))
	d.Register(typed(protocol.EvOrderStatusUpdated, true, handleOrderStatusUpdated))
	d.Register(&Handler{
		Event:   protocol.EvGetOnlineUsers,
		Reply:   protocol.EvOnlineUsers,
		Prepare: func(context.Context, *Server, map[string]any) (any, error) { return nil, nil },
		Handle: func(ctx *Context, _ any) (any, error) {
			return ctx.S.presence.ListOnline(), nil
		},
	})
}

// joinUserHandler fills a missing role or name from the user directory before
// the event reaches the loop.
func joinUserHandler() *Handler {
	h := typed(protocol.EvJoinUser, false, handleJoinUser)
	h.Prepare = func(ctx context.Context, s *Server, data map[string]any) (any, error) {
		p, err := decode.Decode[protocol.JoinUser](data)
		if err != nil {
			return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
		}
		if (p.Role == "" || p.Name == "") && s.dir != nil {
			s.enrich(ctx, p)
		}
		if p.Role == "" || p.Name == "" {
			return nil, errs.ErrInvalidPayload.WrapMsg("role and name are required", "userId", p.UserID)
		}
		if !usermodel.ValidRole(p.Role) {
			return nil, errs.ErrInvalidPayload.WrapMsg("unknown role", "role", p.Role)
		}
		return p, nil
	}
	return h
}

func (s *Server) enrich(ctx context.Context, p *protocol.JoinUser) {
	timeout := s.conf.LookupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	u, err := s.dir.Lookup(lctx, p.UserID)
	if err != nil {
		s.log.Warn("user lookup", zap.String("user", p.UserID), zap.Error(err))
		return
	}
	if p.Role == "" {
		p.Role = u.Role
	}
	if p.Name == "" {
		p.Name = u.Name
	}
}

func handleJoinUser(ctx *Context, p *protocol.JoinUser) (any, error) {
	s, c := ctx.S, ctx.Conn
	if c.authUser != "" && c.authUser != p.UserID {
		return nil, errs.ErrForbidden.WrapMsg("userId does not match token", "userId", p.UserID)
	}
	if c.State() == StateIdentified && c.userID != p.UserID {
		// same socket switching accounts
		s.dropIdentity(c)
	}

	prev := s.presence.RecordJoin(p.UserID, p.Role, p.Name, c.id)
	if prev != nil {
		if old, ok := s.conns[prev.ConnID]; ok {
			s.supersede(old)
		}
	}
	if c.State() == StateIdentified && c.role != p.Role {
		s.rooms.Leave(c, c.role)
	}
	c.identify(p.UserID, p.Role, p.Name)
	s.rooms.Join(c, protocol.PersonalChannel(p.UserID))
	s.rooms.Join(c, p.Role)

	s.emitAll(protocol.EvUserOnline, protocol.Presence{UserID: p.UserID, Name: p.Name, Role: p.Role, Online: true})
	s.mirrorOnline(p.UserID, p.Role, p.Name, c.id)
	if s.metrics != nil {
		s.metrics.online.Set(float64(s.presence.Len()))
	}
	s.log.Info("user online", zap.String("user", p.UserID), zap.String("role", p.Role), zap.String("conn", c.id))
	return nil, nil
}

// supersede evicts the older connection of a user that joined again elsewhere.
// The socket stays open as an anonymous connection.
func (s *Server) supersede(old *Conn) {
	s.emitToConn(old, protocol.EvSessionSuperseded, protocol.Superseded{UserID: old.userID, Reason: "joined from another connection"})
	s.rooms.LeaveAll(old)
	s.log.Info("session superseded", zap.String("user", old.userID), zap.String("conn", old.id))
	old.reset()
}

// dropIdentity is the leave path for a connection that re-joins as another user.
func (s *Server) dropIdentity(c *Conn) {
	s.rooms.LeaveAll(c)
	if e, ok := s.presence.RecordLeave(c.id); ok {
		s.emitAll(protocol.EvUserOffline, protocol.Presence{UserID: e.UserID, Name: e.Name, Role: e.Role, Online: false})
		s.mirrorOffline(e.UserID)
	}
	c.reset()
}

func checkChatID(id string) error {
	if id == protocol.RoleVendor || id == protocol.RoleClient || strings.HasPrefix(id, protocol.PersonalPrefix) {
		return errs.ErrForbidden.WrapMsg("reserved channel name", "chatId", id)
	}
	return nil
}

func handleJoinChat(ctx *Context, p *protocol.JoinChat) (any, error) {
	if err := checkChatID(p.ChatID); err != nil {
		return nil, err
	}
	ctx.S.rooms.Join(ctx.Conn, p.ChatID)
	return nil, nil
}

func handleLeaveChat(ctx *Context, p *protocol.JoinChat) (any, error) {
	if err := checkChatID(p.ChatID); err != nil {
		return nil, err
	}
	ctx.S.rooms.Leave(ctx.Conn, p.ChatID)
	return nil, nil
}

// selfID defaults an optional user id field to the connection's user and
// refuses acting on behalf of someone else.
func selfID(c *Conn, field, given string) (string, error) {
	if given == "" {
		return c.userID, nil
	}
	if given != c.userID {
		return "", errs.ErrForbidden.WrapMsg("user id does not match connection", field, given)
	}
	return given, nil
}

func handleSendMessage(ctx *Context, p *protocol.SendMessage) (any, error) {
	s, c := ctx.S, ctx.Conn
	sender, err := selfID(c, "senderId", p.SenderID)
	if err != nil {
		return nil, err
	}
	msg := &chatmodel.Message{
		ID:          p.ID,
		ChatID:      p.ChatID,
		SenderID:    sender,
		RecipientID: p.RecipientID,
		Message:     p.Message,
		Timestamp:   p.Timestamp,
	}
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}

	s.rooms.EmitToUser(msg.RecipientID, protocol.EvReceiveMessage, msg)
	s.emitToConn(c, protocol.EvMessageSent, msg)
	if s.sink != nil {
		s.sink.Publish(msg)
	}
	return msg, nil
}

func typingHandler(out string) func(*Context, *protocol.Typing) (any, error) {
	return func(ctx *Context, p *protocol.Typing) (any, error) {
		c := ctx.Conn
		if _, err := selfID(c, "userId", p.UserID); err != nil {
			return nil, err
		}
		// 显示名以 join-user 登记的为准，payload 里的 name 只在未登记时使用
		name := c.name
		if name == "" {
			name = p.Name
		}
		ctx.S.rooms.BroadcastToSession(c, p.ChatID, out, protocol.UserTyping{ChatID: p.ChatID, Name: name})
		return nil, nil
	}
}

func handleMarkRead(ctx *Context, p *protocol.MarkRead) (any, error) {
	uid, err := selfID(ctx.Conn, "userId", p.UserID)
	if err != nil {
		return nil, err
	}
	ctx.S.rooms.EmitToSession(p.ChatID, protocol.EvMessageRead, protocol.MessageRead{
		ChatID:    p.ChatID,
		MessageID: p.MessageID,
		UserID:    uid,
	})
	return nil, nil
}

func handleOrderPaid(ctx *Context, p *protocol.OrderPaid) (any, error) {
	s := ctx.S
	uid, err := selfID(ctx.Conn, "userId", p.UserID)
	if err != nil {
		return nil, err
	}
	s.rooms.EmitToRole(protocol.RoleVendor, protocol.EvNewOrderPayment, protocol.NewOrderPayment{
		OrderID:       p.OrderID,
		UserID:        uid,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
		Timestamp:     s.now().UTC(),
	})
	s.rooms.EmitToUser(uid, protocol.EvPaymentConfirmed, protocol.PaymentConfirmed{OrderID: p.OrderID})
	return nil, nil
}

func handleOrderStatusUpdated(ctx *Context, p *protocol.OrderStatusUpdated) (any, error) {
	s, c := ctx.S, ctx.Conn
	if c.role != protocol.RoleVendor {
		return nil, errs.ErrForbidden.WrapMsg("only vendors update order status", "role", c.role)
	}
	s.rooms.EmitToChannels(
		[]string{protocol.PersonalChannel(p.ClientID), protocol.RoleVendor},
		protocol.EvOrderStatusChanged,
		protocol.OrderStatusChanged{OrderID: p.OrderID, Status: p.Status, Timestamp: s.now().UTC()},
	)
	return nil, nil
}
