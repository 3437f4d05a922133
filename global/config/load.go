package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load builds the config: defaults, then the yaml file (optional), then PSHOP_* env.
// A .env file in the working directory is loaded first when present.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return cfg, errors.Wrap(err, "load .env")
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("PSHOP_NODE_TYPE", &cfg.NodeType)
	str("PSHOP_HTTP_ADDR", &cfg.HTTPAddr)
	str("PSHOP_LOG_LEVEL", &cfg.LogLevel)
	str("PSHOP_REDIS_ADDR", &cfg.Redis.Addr)
	str("PSHOP_REDIS_PASSWORD", &cfg.Redis.Password)
	str("PSHOP_MONGO_URI", &cfg.Mongo.Uri)
	str("PSHOP_MONGO_DATABASE", &cfg.Mongo.Database)
	str("PSHOP_DATABASE_URL", &cfg.Postgres.DatabaseURL)
	list("PSHOP_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	list("PSHOP_NATS_SERVERS", &cfg.Nats.Servers)
	str("PSHOP_NATS_USER", &cfg.Nats.User)
	str("PSHOP_NATS_PASSWORD", &cfg.Nats.Password)

	if v, ok := lookup("PSHOP_AUTH_SECRET"); ok && v != "" {
		cfg.Auth.Secret = v
		cfg.Auth.Enabled = true
	}
	if v, ok := lookup("PSHOP_NODE_ID"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "PSHOP_NODE_ID")
		}
		cfg.NodeID = n
	}
	return nil
}

func (c AppConfig) Validate() error {
	switch c.NodeType {
	case NodeTypeGateway, NodeTypeWorker:
	default:
		return errors.Errorf("unknown node_type %q", c.NodeType)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.Errorf("node_id %d out of range 0..1023", c.NodeID)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("auth enabled without secret")
	}
	if c.Gateway.SendQueue <= 0 || c.Gateway.LoopQueue <= 0 {
		return errors.New("gateway queues must be positive")
	}
	if c.Gateway.PongWait <= c.Gateway.PingInterval {
		return errors.New("gateway pong_wait must exceed ping_interval")
	}
	if c.NodeType == NodeTypeWorker && (len(c.Kafka.Brokers) == 0 || c.Mongo.Uri == "") {
		return errors.New("worker node needs kafka brokers and mongo uri")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
