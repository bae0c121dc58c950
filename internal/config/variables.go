package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PublisherKafka = "kafka"
	PublisherSQS   = "sqs"

	DefaultMediaEndpointTemplate = "https://api.chakrahq.com/v1/whatsapp/v19.0/media/{mediaId}/show"
	DefaultMediaUserAgent        = "PostmanRuntime/7.29.2"
)

type Config struct {
	LogLevel    string
	MetricsAddr string

	PublisherBackend string

	KafkaBrokers           []string
	KafkaGroupID           string
	KafkaReaderTopic       string
	KafkaWriterTopic       string
	KafkaTopicPartitions   int
	KafkaReplicationFactor int
	KafkaEnsureTopics      bool

	KafkaReaderMinBytes  int
	KafkaReaderMaxBytes  int
	KafkaReaderMaxWaitMs int

	BatchMaxRecords    int
	BatchMaxIntervalMs int

	SQSQueueURL string
	AWSRegion   string

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseTLS        bool
	S3Bucket        string
	S3PublicBaseURL string
	S3EnsureBucket  bool

	CredentialsFunctionName string

	MediaEndpointTemplate string
	MediaTimeout          time.Duration
	MediaUserAgent        string
}

func (c *Config) String() string {
	return fmt.Sprintf(`
Publisher:
  Backend:            %s

Kafka:
  Brokers:            %v
  GroupID:            %s
  ReaderTopic:        %s
  WriterTopic:        %s
  TopicPartitions:    %d
  ReplicationFactor:  %d
  EnsureTopics:       %t
  ReaderMinBytes:     %d
  ReaderMaxBytes:     %d
  ReaderMaxWaitMs:    %d

Batch:
  MaxRecords:         %d
  MaxIntervalMs:      %d

SQS:
  QueueURL:           %s

S3:
  Region:             %s
  Endpoint:           %s
  AccessKey:          %s
  SecretKey:          %s
  UseTLS:             %t
  Bucket:             %s
  PublicBaseURL:      %s
  EnsureBucket:       %t

Credentials:
  FunctionName:       %s

Media:
  EndpointTemplate:   %s
  Timeout:            %s
  UserAgent:          %s
`,
		c.PublisherBackend,

		c.KafkaBrokers,
		c.KafkaGroupID,
		c.KafkaReaderTopic,
		c.KafkaWriterTopic,
		c.KafkaTopicPartitions,
		c.KafkaReplicationFactor,
		c.KafkaEnsureTopics,
		c.KafkaReaderMinBytes,
		c.KafkaReaderMaxBytes,
		c.KafkaReaderMaxWaitMs,

		c.BatchMaxRecords,
		c.BatchMaxIntervalMs,

		c.SQSQueueURL,

		c.AWSRegion,
		c.S3Endpoint,
		c.S3AccessKey,
		strings.Repeat("*", len(c.S3SecretKey)),
		c.S3UseTLS,
		c.S3Bucket,
		c.S3PublicBaseURL,
		c.S3EnsureBucket,

		c.CredentialsFunctionName,

		c.MediaEndpointTemplate,
		c.MediaTimeout,
		c.MediaUserAgent,
	)
}

type errList []string

func (e *errList) addf(format string, a ...any) { *e = append(*e, fmt.Sprintf(format, a...)) }
func (e *errList) add(msg string)               { *e = append(*e, msg) }
func (e *errList) has() bool                    { return len(*e) > 0 }

type source struct {
	v    *viper.Viper
	errs errList
}

func newSource() *source {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", ":9102")
	v.SetDefault("PUBLISHER_BACKEND", PublisherKafka)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "media-receiver")
	v.SetDefault("KAFKA_READER_TOPIC", "whatsapp-webhooks-topic")
	v.SetDefault("KAFKA_WRITER_TOPIC", "whatsapp-processed-topic")
	v.SetDefault("KAFKA_TOPIC_PARTITIONS", 3)
	v.SetDefault("KAFKA_REPLICATION_FACTOR", 1)
	v.SetDefault("KAFKA_ENSURE_TOPICS", false)
	v.SetDefault("KAFKA_READER_MIN_BYTES", 1)
	v.SetDefault("KAFKA_READER_MAX_BYTES", 10_000_000)
	v.SetDefault("KAFKA_READER_MAX_WAIT_MS", 500)

	v.SetDefault("BATCH_MAX_RECORDS", 10)
	v.SetDefault("BATCH_MAX_INTERVAL_MS", 1000)

	v.SetDefault("AWS_REGION", "sa-east-1")

	v.SetDefault("S3_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("S3_USE_TLS", true)
	v.SetDefault("S3_ENSURE_BUCKET", false)

	v.SetDefault("MEDIA_ENDPOINT_TEMPLATE", DefaultMediaEndpointTemplate)
	v.SetDefault("MEDIA_TIMEOUT_MS", 60_000)
	v.SetDefault("MEDIA_USER_AGENT", DefaultMediaUserAgent)

	return &source{v: v}
}

func (s *source) get(key string) string {
	return strings.TrimSpace(s.v.GetString(key))
}

func (s *source) getRequired(key string) string {
	v := s.get(key)
	if v == "" {
		s.errs.addf("faltando %s", key)
	}
	return v
}

func (s *source) getInt(key string) int {
	v := s.get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.errs.addf("%s inválido (esperado int): %q", key, v)
		return 0
	}
	return n
}

func (s *source) getBool(key string) bool {
	v := strings.ToLower(s.get(key))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n", "":
		return false
	default:
		s.errs.addf("%s inválido (use true/false ou 1/0): %q", key, v)
		return false
	}
}

func (s *source) ensureOneOf(key, val string, allowed []string) {
	for _, a := range allowed {
		if val == a {
			return
		}
	}
	s.errs.addf("%s inválido (permitidos: %s): %q", key, strings.Join(allowed, ", "), val)
}

func parseBrokers(list string, errs *errList) []string {
	var out []string
	if list == "" {
		return out
	}
	for _, b := range strings.Split(list, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		errs.add("KAFKA_BROKERS inválido (lista vazia)")
	}
	return out
}

// LoadConfig reads the process environment once. Kafka intake settings are only
// validated when requireKafkaIntake is set, so the Lambda runtime can run without them.
func LoadConfig(logger *zap.Logger, requireKafkaIntake bool) (*Config, error) {
	s := newSource()

	cfg := &Config{
		LogLevel:    s.get("LOG_LEVEL"),
		MetricsAddr: s.get("METRICS_ADDR"),

		PublisherBackend: strings.ToLower(s.getRequired("PUBLISHER_BACKEND")),

		KafkaGroupID:           s.get("KAFKA_GROUP_ID"),
		KafkaReaderTopic:       s.get("KAFKA_READER_TOPIC"),
		KafkaWriterTopic:       s.get("KAFKA_WRITER_TOPIC"),
		KafkaTopicPartitions:   s.getInt("KAFKA_TOPIC_PARTITIONS"),
		KafkaReplicationFactor: s.getInt("KAFKA_REPLICATION_FACTOR"),
		KafkaEnsureTopics:      s.getBool("KAFKA_ENSURE_TOPICS"),
		KafkaReaderMinBytes:    s.getInt("KAFKA_READER_MIN_BYTES"),
		KafkaReaderMaxBytes:    s.getInt("KAFKA_READER_MAX_BYTES"),
		KafkaReaderMaxWaitMs:   s.getInt("KAFKA_READER_MAX_WAIT_MS"),

		BatchMaxRecords:    s.getInt("BATCH_MAX_RECORDS"),
		BatchMaxIntervalMs: s.getInt("BATCH_MAX_INTERVAL_MS"),

		SQSQueueURL: s.get("SQS_QUEUE_URL"),
		AWSRegion:   s.getRequired("AWS_REGION"),

		S3Endpoint:      s.getRequired("S3_ENDPOINT"),
		S3AccessKey:     s.get("S3_ACCESS_KEY"),
		S3SecretKey:     s.get("S3_SECRET_KEY"),
		S3UseTLS:        s.getBool("S3_USE_TLS"),
		S3Bucket:        s.getRequired("S3_BUCKET"),
		S3PublicBaseURL: s.get("S3_PUBLIC_BASE_URL"),
		S3EnsureBucket:  s.getBool("S3_ENSURE_BUCKET"),

		CredentialsFunctionName: s.getRequired("CREDENTIALS_FUNCTION_NAME"),

		MediaEndpointTemplate: s.getRequired("MEDIA_ENDPOINT_TEMPLATE"),
		MediaTimeout:          time.Duration(s.getInt("MEDIA_TIMEOUT_MS")) * time.Millisecond,
		MediaUserAgent:        s.get("MEDIA_USER_AGENT"),
	}
	cfg.KafkaBrokers = parseBrokers(s.get("KAFKA_BROKERS"), &s.errs)

	if cfg.S3PublicBaseURL == "" && cfg.S3Bucket != "" {
		cfg.S3PublicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.AWSRegion)
	}
	cfg.S3PublicBaseURL = strings.TrimRight(cfg.S3PublicBaseURL, "/")

	validate(cfg, s, requireKafkaIntake)

	if s.errs.has() {
		for _, e := range s.errs {
			logger.Error("invalid configuration", zap.String("problem", e))
		}
		return nil, errors.New("variáveis de ambiente faltando/invalidas, ver logs acima")
	}
	return cfg, nil
}

func validate(cfg *Config, s *source, requireKafkaIntake bool) {
	s.ensureOneOf("LOG_LEVEL", strings.ToLower(cfg.LogLevel), []string{"debug", "info", "warn", "error"})
	s.ensureOneOf("PUBLISHER_BACKEND", cfg.PublisherBackend, []string{PublisherKafka, PublisherSQS})

	needsKafka := requireKafkaIntake || cfg.PublisherBackend == PublisherKafka
	if needsKafka && len(cfg.KafkaBrokers) == 0 {
		s.errs.add("KAFKA_BROKERS deve ter ao menos 1 broker")
	}
	if cfg.PublisherBackend == PublisherKafka && cfg.KafkaWriterTopic == "" {
		s.errs.add("KAFKA_WRITER_TOPIC não pode ser vazio")
	}
	if cfg.PublisherBackend == PublisherSQS && cfg.SQSQueueURL == "" {
		s.errs.add("SQS_QUEUE_URL não pode ser vazio quando PUBLISHER_BACKEND=sqs")
	}

	if requireKafkaIntake {
		if cfg.KafkaGroupID == "" {
			s.errs.add("KAFKA_GROUP_ID não pode ser vazio")
		}
		if cfg.KafkaReaderTopic == "" {
			s.errs.add("KAFKA_READER_TOPIC não pode ser vazio")
		}
		if cfg.KafkaReaderTopic != "" && cfg.KafkaReaderTopic == cfg.KafkaWriterTopic {
			s.errs.add("KAFKA_READER_TOPIC e KAFKA_WRITER_TOPIC devem ser diferentes")
		}
		if cfg.KafkaReaderMaxBytes <= 0 {
			s.errs.add("KAFKA_READER_MAX_BYTES deve ser > 0")
		}
		if cfg.KafkaReaderMaxBytes < cfg.KafkaReaderMinBytes {
			s.errs.add("KAFKA_READER_MAX_BYTES deve ser >= KAFKA_READER_MIN_BYTES")
		}
		if cfg.KafkaReaderMaxWaitMs <= 0 {
			s.errs.add("KAFKA_READER_MAX_WAIT_MS deve ser > 0")
		}
		if cfg.BatchMaxRecords <= 0 {
			s.errs.add("BATCH_MAX_RECORDS deve ser > 0")
		}
		if cfg.BatchMaxIntervalMs <= 0 {
			s.errs.add("BATCH_MAX_INTERVAL_MS deve ser > 0")
		}
	}

	if cfg.KafkaEnsureTopics {
		if cfg.KafkaTopicPartitions <= 0 {
			s.errs.add("KAFKA_TOPIC_PARTITIONS deve ser > 0")
		}
		if cfg.KafkaReplicationFactor <= 0 {
			s.errs.add("KAFKA_REPLICATION_FACTOR deve ser > 0")
		}
		if cfg.KafkaReplicationFactor > len(cfg.KafkaBrokers) {
			s.errs.add("KAFKA_REPLICATION_FACTOR não pode ser maior que o número de brokers em KAFKA_BROKERS")
		}
	}

	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		s.errs.add("S3_ACCESS_KEY e S3_SECRET_KEY devem ser informadas juntas")
	}
	if !strings.Contains(cfg.MediaEndpointTemplate, "{mediaId}") {
		s.errs.add("MEDIA_ENDPOINT_TEMPLATE deve conter {mediaId}")
	}
	if cfg.MediaTimeout <= 0 {
		s.errs.add("MEDIA_TIMEOUT_MS deve ser > 0")
	}
}
