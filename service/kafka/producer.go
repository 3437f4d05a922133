package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PShop/logger"
	chatmodel "PShop/module/chat/model"
	"PShop/tools/errs"
	"PShop/tools/safe"
)

// ChatSink publishes routed chat messages to the message topic.
// Publish never blocks: a full producer input drops the message and logs it.
type ChatSink struct {
	prod  sarama.AsyncProducer
	topic string

	closeOnce sync.Once
	done      chan struct{}
}

func NewChatSink(app AppConfig) (*ChatSink, error) {
	p, err := sarama.NewAsyncProducer(app.Brokers, BuildBaseConfig(app))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka async producer", "brokers", app.Brokers)
	}
	return newChatSink(p, app.Topic), nil
}

func newChatSink(p sarama.AsyncProducer, topic string) *ChatSink {
	s := &ChatSink{prod: p, topic: topic, done: make(chan struct{})}
	safe.Go("kafka-chat-sink", s.drain)
	return s
}

func (s *ChatSink) drain() {
	defer close(s.done)
	succ, fail := s.prod.Successes(), s.prod.Errors()
	for succ != nil || fail != nil {
		select {
		case m, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			logger.Debug("chat message produced", zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition), zap.Int64("offset", m.Offset))
		case e, ok := <-fail:
			if !ok {
				fail = nil
				continue
			}
			logger.Warn("chat message produce failed", zap.String("topic", e.Msg.Topic), zap.Error(e.Err))
		}
	}
}

func (s *ChatSink) Publish(msg *chatmodel.Message) {
	value, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("encode chat message", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	pm := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(msg.ChatID),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case s.prod.Input() <- pm:
	default:
		logger.Warn("kafka producer busy, chat message dropped", zap.String("id", msg.ID), zap.String("chat", msg.ChatID))
	}
}

// Close flushes in-flight messages.
func (s *ChatSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.prod.Close()
		<-s.done
	})
	return err
}

// Saver stores chat messages read back from the topic.
type Saver interface {
	Save(ctx context.Context, msgs ...*chatmodel.Message) error
}

// PersistHandler decodes one chat message and saves it. Undecodable records are
// logged and skipped; storage errors are returned so the consumer retries.
func PersistHandler(store Saver) MessageHandler {
	return func(ctx context.Context, topic string, key, value []byte) error {
		var m chatmodel.Message
		if err := json.Unmarshal(value, &m); err != nil || m.ID == "" || m.ChatID == "" {
			logger.Warn("skip bad chat record", zap.String("topic", topic), zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		return store.Save(ctx, &m)
	}
}
