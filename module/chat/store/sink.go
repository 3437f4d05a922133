package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"PShop/logger"
	"PShop/module/chat/model"
	"PShop/tools/safe"
)

type saver interface {
	Save(ctx context.Context, msgs ...*model.Message) error
}

// DirectSink writes chat messages to mongo in small batches without kafka.
// Publish never blocks; a full buffer drops the message.
type DirectSink struct {
	store    saver
	in       chan *model.Message
	batch    int
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewDirectSink(store saver, buffer int) *DirectSink {
	if buffer <= 0 {
		buffer = 4096
	}
	s := &DirectSink{
		store:    store,
		in:       make(chan *model.Message, buffer),
		batch:    100,
		interval: 200 * time.Millisecond,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	safe.Go("chat-direct-sink", s.run)
	return s
}

func (s *DirectSink) Publish(msg *model.Message) {
	select {
	case s.in <- msg:
	default:
		logger.Warn("history buffer full, chat message dropped", zap.String("id", msg.ID))
	}
}

func (s *DirectSink) run() {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	buf := make([]*model.Message, 0, s.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Save(ctx, buf...); err != nil {
			logger.Warn("save chat history", zap.Int("count", len(buf)), zap.Error(err))
		}
		cancel()
		buf = buf[:0]
	}

	for {
		select {
		case m := <-s.in:
			buf = append(buf, m)
			if len(buf) >= s.batch {
				flush()
			}
		case <-t.C:
			flush()
		case <-s.stop:
			// 收尾：把缓冲里剩下的写完
			for {
				select {
				case m := <-s.in:
					buf = append(buf, m)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes what is buffered and stops the worker.
func (s *DirectSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
