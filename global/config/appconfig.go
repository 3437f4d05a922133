package config

import "time"

const (
	NodeTypeGateway = "gateway" // websocket + http
	NodeTypeWorker  = "worker"  // kafka -> mongo persistence only
)

type AppConfig struct {
	NodeType string        `yaml:"node_type"`
	NodeID   int64         `yaml:"node_id"` // snowflake node
	HTTPAddr string        `yaml:"http_addr"`
	LogLevel string        `yaml:"log_level"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Auth     AuthConfig    `yaml:"auth"`
	Redis    RedisConfig   `yaml:"redis"`
	Mongo    MongoConfig   `yaml:"mongo"`
	Postgres PgConfig      `yaml:"postgres"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Nats     NatsConfig    `yaml:"nats"`
}

type GatewayConfig struct {
	SendQueue      int           `yaml:"send_queue"`      // per connection outbound frames
	LoopQueue      int           `yaml:"loop_queue"`      // event loop backlog
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxFrameBytes  int64         `yaml:"max_frame_bytes"`
	EventsPerSec   float64       `yaml:"events_per_sec"` // <=0 disables the limiter
	EventBurst     int           `yaml:"event_burst"`
	LookupTimeout  time.Duration `yaml:"lookup_timeout"` // user directory lookups on join
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Secret  string        `yaml:"secret"`
	Alg     string        `yaml:"alg"`
	TTL     time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"` // empty disables the presence mirror
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type MongoConfig struct {
	Uri         string `yaml:"uri"` // empty disables history + user directory
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

type PgConfig struct {
	DatabaseURL string `yaml:"database_url"` // empty disables the order api
	MaxConns    int32  `yaml:"max_conns"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"` // empty: chat messages go straight to mongo
	MessageTopic string   `yaml:"message_topic"`
	GroupID      string   `yaml:"group_id"`
	Compression  string   `yaml:"compression"`
	Version      string   `yaml:"version"`
}

type NatsConfig struct {
	Servers      []string `yaml:"servers"` // empty disables the order bridge
	Name         string   `yaml:"name"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	OrderCreated string   `yaml:"order_created_subject"`
	OrderUpdated string   `yaml:"order_updated_subject"`
	Queue        string   `yaml:"queue"`
}

// Default 默认配置（可直接改）
func Default() AppConfig {
	return AppConfig{
		NodeType: NodeTypeGateway,
		NodeID:   1,
		HTTPAddr: ":8080",
		LogLevel: "info",
		Gateway: GatewayConfig{
			SendQueue:     256,
			LoopQueue:     8192,
			PingInterval:  25 * time.Second,
			PongWait:      60 * time.Second,
			WriteWait:     10 * time.Second,
			MaxFrameBytes: 64 * 1024,
			EventsPerSec:  20,
			EventBurst:    40,
			LookupTimeout: 2 * time.Second,
		},
		Auth: AuthConfig{
			Alg: "HS256",
			TTL: 2 * time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:    20,
			PresenceTTL: 2 * time.Hour,
		},
		Mongo: MongoConfig{
			Database:    "pshop",
			MaxPoolSize: 20,
		},
		Postgres: PgConfig{MaxConns: 10},
		Kafka: KafkaConfig{
			MessageTopic: "shop.chat.messages",
			GroupID:      "pshop-chat-persist",
			Compression:  "snappy",
			Version:      "2.1.0",
		},
		Nats: NatsConfig{
			Name:         "pshop-gateway",
			OrderCreated: "shop.orders.created",
			OrderUpdated: "shop.orders.updated",
			Queue:        "pshop-gateway",
		},
	}
}
