package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"PShop/data/database/mgo/mongoutil"
	"PShop/logger"
	"PShop/tools/errs"
)

// MongoManager keeps one client alive: connect with backoff, ping periodically,
// reconnect after repeated ping failures.
type MongoManager struct {
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	lastErr   atomic.Value // error

	healthEvery time.Duration
	failThresh  int
}

func NewManager(cfg *mongoutil.Config) *MongoManager {
	return &MongoManager{
		cfg:         cfg,
		readyCh:     make(chan struct{}),
		healthEvery: 10 * time.Second,
		failThresh:  3,
	}
}

// StartAsync 一直运行到 ctx.Done()
func (m *MongoManager) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !m.connect(ctx) {
				return
			}
			m.health(ctx)
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (m *MongoManager) connect(ctx context.Context) bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // retry until ctx is done

	err := backoff.RetryNotify(func() error {
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err != nil {
			m.lastErr.Store(err)
			return err
		}
		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.readyOnce.Do(func() { close(m.readyCh) })
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		logger.Warn("mongo connect failed", zap.Error(err), zap.Duration("retry_in", d))
	})
	if err != nil {
		return false
	}
	logger.Info("mongo connected", zap.String("database", m.cfg.Database))
	return true
}

// health returns when the client is dropped or ctx ends.
func (m *MongoManager) health(ctx context.Context) {
	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			logger.Warn("mongo ping failed", zap.Int("fails", fail), zap.Error(err))
			if fail >= m.failThresh {
				m.drop()
				return
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready 首次连接成功时 close
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// WaitReady blocks until the first successful connect and returns the database.
func (m *MongoManager) WaitReady(ctx context.Context) (*mongo.Database, error) {
	select {
	case <-m.readyCh:
	case <-ctx.Done():
		if last := m.Err(); last != nil {
			return nil, errs.WrapMsg(last, "mongo not ready")
		}
		return nil, errs.Wrap(ctx.Err())
	}
	if db, ok := m.TryGetDB(); ok {
		return db, nil
	}
	return nil, errs.ErrUnavailable.WrapMsg("mongo disconnected")
}

// Close disconnects the current client.
func (m *MongoManager) Close() {
	m.drop()
}
