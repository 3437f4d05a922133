package global

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"PShop/data/database/mgo/mongoutil"
	"PShop/global/config"
	"PShop/logger"
	midsec "PShop/middleware/security"
	orderstore "PShop/module/order/store"
	ka "PShop/service/kafka"
	mgoSrv "PShop/service/mgo"
	"PShop/service/natsx"
	redis "PShop/service/storage/redis"
	"PShop/tools/ids"
	"PShop/tools/security"
)

// 每个 ConfigXxx 在对应配置为空时返回 nil，调用方按“未启用”处理。

func ConfigIds(cfg config.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

func ConfigAuth(cfg config.AuthConfig) *midsec.Options {
	if !cfg.Enabled {
		return nil
	}
	tok := security.DefaultOptions([]byte(cfg.Secret))
	if cfg.Alg != "" {
		tok.Alg = cfg.Alg
	}
	if cfg.TTL > 0 {
		tok.TTL = cfg.TTL
	}
	return midsec.DefaultOptions(tok)
}

func ConfigRedis(cfg config.RedisConfig) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	return redis.InitRedis(redis.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// ConfigMgo 异步连接，返回的 manager 在就绪前 TryGetDB 为 false。
func ConfigMgo(ctx context.Context, cfg config.MongoConfig) *mgoSrv.MongoManager {
	if cfg.Uri == "" {
		return nil
	}
	m := mgoSrv.NewManager(&mongoutil.Config{
		Uri:         cfg.Uri,
		Database:    cfg.Database,
		MaxPoolSize: cfg.MaxPoolSize,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	m.StartAsync(ctx)
	return m
}

func ConfigPostgres(ctx context.Context, cfg config.PgConfig) (*pgxpool.Pool, *orderstore.OrderStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := orderstore.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	s := orderstore.NewOrderStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, s, nil
}

// ConfigKafka maps the section and makes sure the message topic exists.
// ok is false when no brokers are configured.
func ConfigKafka(cfg config.KafkaConfig) (app ka.AppConfig, ok bool, err error) {
	if len(cfg.Brokers) == 0 {
		return app, false, nil
	}
	app, err = ka.ConfigFrom(cfg)
	if err != nil {
		return app, false, err
	}
	if app.AutoCreateTopicsOnStart {
		if err := ka.EnsureChatTopic(app); err != nil {
			// topic 可能已由运维创建，这里只告警
			logger.Warn("ensure kafka topic", zap.String("topic", app.Topic), zap.Error(err))
		}
	}
	return app, true, nil
}

// ConfigNats connects and registers the order routes. Messages are deduplicated
// in redis when rdb is set, in memory otherwise.
func ConfigNats(cfg config.NatsConfig, rdb *goredis.Client) (*natsx.NatsManager, error) {
	if len(cfg.Servers) == 0 {
		return nil, nil
	}
	idem := natsx.NewMemIdem(10 * time.Minute)
	if rdb != nil {
		idem = natsx.NewRedisIdem(rdb, "")
	}
	m, err := natsx.NewNatsManager(natsx.ConfigFrom(cfg),
		natsx.NatsxRecover(),
		natsx.NatsxIdemMiddleware(idem, 10*time.Minute),
	)
	if err != nil {
		return nil, err
	}
	if err := natsx.OrderRoutes(m, cfg); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}
