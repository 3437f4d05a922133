package natsx

import (
	"context"

	"go.uber.org/zap"

	"PShop/logger"
	"PShop/tools/safe"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、幂等等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover turns handler panics into errors and logs failures.
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			err := safe.Call("nats:"+msg.Subject, func() error { return next(ctx, msg) })
			if err != nil {
				logger.Warn("nats handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return err
		}
	}
}
