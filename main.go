package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"PShop/global"
	"PShop/global/config"
	"PShop/logger"
	midsec "PShop/middleware/security"
	chatstore "PShop/module/chat/store"
	userstore "PShop/module/user/store"
	"PShop/service/api"
	"PShop/service/chat"
	ka "PShop/service/kafka"
	mgoSrv "PShop/service/mgo"
	"PShop/service/natsx"
	"PShop/service/storage"
	"PShop/service/storage/redis"
	"PShop/tools/errs"
	"PShop/tools/ids"
	"PShop/tools/safe"
)

func main() {
	confPath := flag.String("config", "config/gateway.yaml", "yaml config, empty for defaults + PSHOP_* env")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	global.ConfigIds(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := runGateway
	if cfg.NodeType == config.NodeTypeWorker {
		run = runWorker
	}
	logger.Info("starting", zap.String("node_type", cfg.NodeType), zap.Int64("node_id", cfg.NodeID))
	if err := run(ctx, cfg); err != nil {
		logger.Error("exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// runWorker 只做 kafka -> mongo 的消息落库
func runWorker(ctx context.Context, cfg config.AppConfig) error {
	mgr := global.ConfigMgo(ctx, cfg.Mongo)
	defer mgr.Close()
	if _, err := mgr.WaitReady(ctx); err != nil {
		return err
	}
	msgs := chatstore.NewMsgStore(mgr)
	if err := msgs.EnsureIndexes(ctx); err != nil {
		logger.Warn("ensure message indexes", zap.Error(err))
	}

	app, _, err := global.ConfigKafka(cfg.Kafka)
	if err != nil {
		return err
	}
	router := ka.NewRouter()
	router.RegisterHandler(app.Topic, ka.PersistHandler(msgs))
	return ka.StartConsumerGroup(ctx, app, router)
}

func runGateway(ctx context.Context, cfg config.AppConfig) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := chat.Options{Gateway: cfg.Gateway, Metrics: chat.NewMetrics(reg)}
	deps := api.Deps{
		NewID:          ids.GenerateString,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Gatherer:       reg,
	}

	// 1) redis：presence 镜像 + NATS 幂等
	rdb, err := global.ConfigRedis(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, presence mirror off", zap.Error(err))
	}
	if rdb != nil {
		closers = append(closers, func() { _ = redis.CloseRedis() })
		pres := storage.NewRedisPresence(rdb, storage.PresenceConfig{
			NodeID: strconv.FormatInt(cfg.NodeID, 10),
			TTL:    cfg.Redis.PresenceTTL,
		})
		opts.Mirror = pres
		deps.Presence = pres
	}

	// 2) mongo：用户目录 + 聊天历史
	mgr := global.ConfigMgo(ctx, cfg.Mongo)
	var msgs *chatstore.MsgStore
	if mgr != nil {
		closers = append(closers, mgr.Close)
		users := userstore.NewUserStore(mgr)
		msgs = chatstore.NewMsgStore(mgr)
		opts.Directory = users
		deps.Users = users
		deps.History = msgs
		safe.Go("mongo-indexes", func() {
			if _, err := mgr.WaitReady(ctx); err != nil {
				return
			}
			if err := msgs.EnsureIndexes(ctx); err != nil {
				logger.Warn("ensure message indexes", zap.Error(err))
			}
		})
	}

	// 3) 消息落库：有 kafka 走 topic，由 worker 消费；否则直接批量写 mongo
	app, useKafka, err := global.ConfigKafka(cfg.Kafka)
	if err != nil {
		return err
	}
	switch {
	case useKafka:
		sink, err := ka.NewChatSink(app)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = sink.Close() })
		opts.Sink = sink
	case msgs != nil:
		sink := chatstore.NewDirectSink(msgs, 0)
		closers = append(closers, func() { _ = sink.Close() })
		opts.Sink = sink
	default:
		logger.Warn("no kafka and no mongo, chat messages are not persisted")
	}

	// 4) postgres：订单
	pool, orders, err := global.ConfigPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Warn("postgres unavailable, order api off", zap.Error(err))
	}
	if pool != nil {
		closers = append(closers, pool.Close)
		deps.Orders = orders
	}

	srv := chat.NewServer(opts)
	srv.Start()
	closers = append(closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(sctx)
	})
	notifier := chat.NewOrderNotifier(srv)
	deps.Online = srv
	deps.Events = api.LocalEvents{N: notifier}

	// 5) nats：订单事件跨网关广播
	nm, err := global.ConfigNats(cfg.Nats, rdb)
	if err != nil {
		logger.Warn("nats unavailable, order events stay local", zap.Error(err))
	}
	if nm != nil {
		closers = append(closers, func() { _ = nm.Close() })
		if err := natsx.NewOrderBridge(notifier).Start(ctx, nm); err != nil {
			return err
		}
		deps.Events = natsx.NewOrderPublisher(nm)
	}

	var wsAuth chat.Authenticator
	if a := global.ConfigAuth(cfg.Auth); a != nil {
		deps.Auth = midsec.Middleware(a)
		wsAuth = midsec.Authenticator(a)
	}
	deps.WS = srv.HandleWS(wsAuth)
	deps.Health = health(rdb, mgr, pool, nm)

	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	safe.Go("http-server", func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return errs.WrapMsg(err, "http serve", "addr", cfg.HTTPAddr)
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// websocket 连接已被 hijack，由网关自己释放
	return srv.Stop(sctx)
}

func health(rdb *goredis.Client, mgr *mgoSrv.MongoManager, pool *pgxpool.Pool, nm *natsx.NatsManager) func(ctx context.Context) map[string]string {
	state := func(on, up bool) string {
		switch {
		case !on:
			return "off"
		case up:
			return "ok"
		}
		return "down"
	}
	return func(ctx context.Context) map[string]string {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		mongoUp := false
		if mgr != nil {
			_, mongoUp = mgr.TryGetDB()
		}
		return map[string]string{
			"redis":    state(rdb != nil, rdb != nil && rdb.Ping(ctx).Err() == nil),
			"mongo":    state(mgr != nil, mongoUp),
			"postgres": state(pool != nil, pool != nil && pool.Ping(ctx) == nil),
			"nats":     state(nm != nil, nm.Connected()),
		}
	}
}
