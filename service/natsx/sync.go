package natsx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"PShop/logger"
)

type publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 同步发布器（带重试）。msgID 在重试间保持不变，JS 侧可去重。
type NatsxSyncPublisher struct {
	P       publisher
	Retries uint64
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Publish(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	wait := sp.Backoff
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), sp.Retries), ctx)
	return backoff.RetryNotify(func() error {
		return sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
	}, bo, func(err error, d time.Duration) {
		logger.Warn("nats publish retry", zap.String("biz", biz), zap.Duration("in", d), zap.Error(err))
	})
}
