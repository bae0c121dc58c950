package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/config"
)

const defaultRetentionMs = "604800000" // 7d

type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Config            map[string]string
}

// RequiredTopics lists the intake topic and, when Kafka is the publisher, the
// output topic.
func RequiredTopics(cfg *config.Config) []TopicSpec {
	base := map[string]string{"cleanup.policy": "delete", "retention.ms": defaultRetentionMs}
	topics := []TopicSpec{{
		Name:              cfg.KafkaReaderTopic,
		Partitions:        cfg.KafkaTopicPartitions,
		ReplicationFactor: cfg.KafkaReplicationFactor,
		Config:            base,
	}}
	if cfg.PublisherBackend == config.PublisherKafka {
		topics = append(topics, TopicSpec{
			Name:              cfg.KafkaWriterTopic,
			Partitions:        cfg.KafkaTopicPartitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			Config:            base,
		})
	}
	return topics
}

func EnsureTopics(ctx context.Context, brokers []string, topics []TopicSpec, logger *zap.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("ensure topics: no brokers")
	}
	bootstrap := brokers[0]
	logger.Info("kafka ensuring topics", zap.String("bootstrap", bootstrap))

	conn, err := kafka.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	for _, t := range topics {
		if t.Name == "" {
			continue
		}
		if parts, err := conn.ReadPartitions(t.Name); err == nil && len(parts) > 0 {
			logger.Info("kafka topic already exists", zap.String("topic", t.Name), zap.Int("partitions", len(parts)))
			continue
		}
		err := ctrlConn.CreateTopics(kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
			ConfigEntries:     toConfigEntries(t.Config),
		})
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "exists") {
			return fmt.Errorf("create topic %s: %w", t.Name, err)
		}
		logger.Info("kafka topic ensured",
			zap.String("topic", t.Name),
			zap.Int("partitions", t.Partitions),
			zap.Int("replication_factor", t.ReplicationFactor),
		)
	}
	return nil
}

func toConfigEntries(m map[string]string) []kafka.ConfigEntry {
	if len(m) == 0 {
		return nil
	}
	out := make([]kafka.ConfigEntry, 0, len(m))
	for k, v := range m {
		out = append(out, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}
	return out
}
