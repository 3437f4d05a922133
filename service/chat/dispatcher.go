package chat

import (
	"context"

	"PShop/logger"
	"PShop/tools/decode"
	"PShop/tools/errs"
)

// Context is handed to a handler while it runs on the event loop.
type Context struct {
	S    *Server
	Conn *Conn
	// Ctx is for handing work to collaborators; the handler itself must not block on it.
	Ctx   context.Context
	Event string
}

type Handler struct {
	Event string
	// NeedIdentity rejects the event with not_joined on an anonymous connection.
	NeedIdentity bool
	// Reply is emitted with the result when the client sent no ackId.
	Reply string
	// Prepare runs on the reader goroutine: decode, validate, collaborator lookups.
	Prepare func(ctx context.Context, s *Server, data map[string]any) (any, error)
	// Handle runs on the event loop and must not block.
	Handle func(ctx *Context, payload any) (any, error)
}

// typed builds a handler whose payload is decoded into T.
func typed[T any](event string, needIdentity bool, handle func(*Context, *T) (any, error)) *Handler {
	return &Handler{
		Event:        event,
		NeedIdentity: needIdentity,
		Prepare: func(_ context.Context, _ *Server, data map[string]any) (any, error) {
			p, err := decode.Decode[T](data)
			if err != nil {
				return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
			}
			return p, nil
		},
		Handle: func(ctx *Context, payload any) (any, error) {
			return handle(ctx, payload.(*T))
		},
	}
}

type Dispatcher struct {
	handlers map[string]*Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]*Handler)}
}

func (d *Dispatcher) Register(h *Handler) {
	if _, ok := d.handlers[h.Event]; ok {
		logger.Warnf("[Dispatcher] handler for %s replaced", h.Event)
	}
	d.handlers[h.Event] = h
}

func (d *Dispatcher) GetHandler(event string) *Handler {
	h, ok := d.handlers[event]
	if !ok {
		return nil
	}
	return h
}

func (d *Dispatcher) Events() []string {
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}
