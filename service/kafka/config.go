package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"PShop/global/config"
	"PShop/tools/errs"
)

type AppConfig struct {
	Brokers                 []string
	GroupID                 string
	Topic                   string // 聊天消息 topic
	PartitionsPerTopic      int32
	ReplicationFactor       int16 // 单机=1；生产=3
	ProducerRetries         int
	ProducerCompression     string // none/snappy/lz4/zstd
	ConsumerInitialOffset   string // newest/oldest
	KafkaVersion            sarama.KafkaVersion
	AutoCreateTopicsOnStart bool
}

// 默认值；Brokers/Topic/GroupID 来自 app 配置
var Cfg = AppConfig{
	PartitionsPerTopic:      8,
	ReplicationFactor:       1,
	ProducerRetries:         5,
	ProducerCompression:     "snappy",
	ConsumerInitialOffset:   "oldest",
	KafkaVersion:            sarama.V2_1_0_0,
	AutoCreateTopicsOnStart: true,
}

// ConfigFrom overlays the app config section on Cfg.
func ConfigFrom(c config.KafkaConfig) (AppConfig, error) {
	out := Cfg
	out.Brokers = c.Brokers
	out.GroupID = c.GroupID
	out.Topic = c.MessageTopic
	if c.Compression != "" {
		out.ProducerCompression = c.Compression
	}
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return out, errs.WrapMsg(err, "kafka version", "version", c.Version)
		}
		out.KafkaVersion = v
	}
	if out.Topic == "" {
		return out, errs.New("kafka message topic missing")
	}
	return out, nil
}

func BuildBaseConfig(app AppConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = app.KafkaVersion
	cfg.ClientID = "pshop"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if app.ProducerRetries <= 0 {
		app.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = app.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key=chatId，同一会话有序
	cfg.Producer.Compression = compression(app.ProducerCompression)

	// Consumer
	switch strings.ToLower(app.ConsumerInitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func compression(name string) sarama.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	case "gzip":
		return sarama.CompressionGZIP
	}
	return sarama.CompressionNone
}
