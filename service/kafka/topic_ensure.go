package kafka

import (
	"errors"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PShop/logger"
	"PShop/tools/errs"
)

// EnsureTopicsWith 会：
// 1) 不存在就按 appCfg 创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能增加分区）。
func EnsureTopicsWith(admin sarama.ClusterAdmin, topics []string, appCfg AppConfig) error {
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return errs.WrapMsg(err, "describe topic", "topic", t)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			if err := admin.CreateTopic(t, topicDetail(appCfg), false); err != nil {
				if alreadyExists(err) {
					logger.Info("topic exists (race)", zap.String("topic", t))
					continue
				}
				return errs.WrapMsg(err, "create topic", "topic", t)
			}
			logger.Info("topic created", zap.String("topic", t),
				zap.Int32("partitions", appCfg.PartitionsPerTopic), zap.Int16("rf", appCfg.ReplicationFactor))
			continue
		}

		curParts := int32(len(descs[0].Partitions))
		if appCfg.PartitionsPerTopic > curParts {
			if err := admin.CreatePartitions(t, appCfg.PartitionsPerTopic, nil, false); err != nil {
				return errs.WrapMsg(err, "expand partitions", "topic", t, "from", curParts, "to", appCfg.PartitionsPerTopic)
			}
			logger.Info("topic partitions expanded", zap.String("topic", t),
				zap.Int32("from", curParts), zap.Int32("to", appCfg.PartitionsPerTopic))
		}
	}
	return nil
}

func topicDetail(appCfg AppConfig) *sarama.TopicDetail {
	minISR := "1"
	if appCfg.ReplicationFactor >= 3 {
		minISR = "2"
	}
	return &sarama.TopicDetail{
		NumPartitions:     appCfg.PartitionsPerTopic,
		ReplicationFactor: appCfg.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 strPtr("delete"),
			"min.insync.replicas":            strPtr(minISR),
			"unclean.leader.election.enable": strPtr("false"),
			"compression.type":               strPtr("producer"),
		},
	}
}

func alreadyExists(err error) bool {
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return true
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}

// EnsureChatTopic creates the message topic when AutoCreateTopicsOnStart is set.
func EnsureChatTopic(app AppConfig) error {
	if !app.AutoCreateTopicsOnStart {
		return nil
	}
	admin, err := sarama.NewClusterAdmin(app.Brokers, BuildBaseConfig(app))
	if err != nil {
		return errs.WrapMsg(err, "kafka admin")
	}
	defer func() { _ = admin.Close() }()
	return EnsureTopicsWith(admin, []string{app.Topic}, app)
}

func strPtr(s string) *string { return &s }
