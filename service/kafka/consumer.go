package kafka

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PShop/logger"
	"PShop/tools/safe"
)

type ConsumerGroupHandler struct {
	router *Router
	// 处理失败后的重试次数，用尽则记日志并跳过
	retries int
	backoff time.Duration
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	logger.Info("consumer group setup", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (h *ConsumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	handler, err := h.router.GetHandler(msg.Topic)
	if err != nil {
		logger.Warn("kafka message without handler", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	for attempt := 0; ; attempt++ {
		err = safe.Call("kafka:"+msg.Topic, func() error { return handler(ctx, msg.Topic, msg.Key, msg.Value) })
		if err == nil {
			return
		}
		if attempt >= h.retries || ctx.Err() != nil {
			logger.Error("kafka handler failed, skip", zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(h.backoff):
		}
	}
}

// StartConsumerGroup consumes the router's topics until ctx is done.
func StartConsumerGroup(ctx context.Context, app AppConfig, router *Router) error {
	group, err := sarama.NewConsumerGroup(app.Brokers, app.GroupID, BuildBaseConfig(app))
	if err != nil {
		return err
	}
	defer func() { _ = group.Close() }()

	safe.Go("kafka-group-errors", func() {
		for err := range group.Errors() {
			logger.Warn("consumer group error", zap.Error(err))
		}
	})

	handler := &ConsumerGroupHandler{router: router, retries: 3, backoff: 500 * time.Millisecond}
	topics := router.Topics()
	logger.Info("consumer group started", zap.String("group", app.GroupID), zap.Strings("topics", topics))
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			logger.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
