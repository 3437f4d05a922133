package natsx

import (
	"context"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"PShop/logger"
	"PShop/tools/errs"
)

// HeaderMsgID JetStream 去重头
const HeaderMsgID = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.New("route not found", "biz", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	msg.Header = toHeader(hdr)
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}

	switch r.Mode {
	case Core:
		return errs.WrapMsg(p.c.nc.PublishMsg(msg), "nats publish", "subject", r.Subject)
	case JetStreamPush:
		ack, err := p.c.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil {
			return errs.WrapMsg(err, "jetstream publish", "subject", r.Subject)
		}
		logger.Debug("jetstream published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
		return nil
	default:
		return errs.New("unsupported mode", "mode", r.Mode)
	}
}

// PublishOnce 带 Nats-Msg-Id 的发布；msgID 为空则生成
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, data, out)
}
