package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// KafkaSink publishes each document as one message. The producer is created
// on first use so that an unreachable broker does not block startup.
type KafkaSink struct {
	newProducer func() (sarama.SyncProducer, error)

	mu       sync.Mutex
	producer sarama.SyncProducer
	closed   bool
}

// NewKafkaSink creates a Kafka sink from connection settings
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers specified", types.ErrConfiguration)
	}

	saramaConfig, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &KafkaSink{
		newProducer: func() (sarama.SyncProducer, error) {
			return sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
		},
	}, nil
}

// NewKafkaSinkWithProducer creates a Kafka sink around an existing producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func newSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.ClientID = cfg.ClientID

	if cfg.Timeout > 0 {
		saramaConfig.Producer.Timeout = cfg.Timeout
		saramaConfig.Net.DialTimeout = cfg.Timeout
		saramaConfig.Net.ReadTimeout = cfg.Timeout
		saramaConfig.Net.WriteTimeout = cfg.Timeout
	}

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("%w: unsupported kafka compression %q", types.ErrConfiguration, cfg.Compression)
	}

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid Kafka version: %v", types.ErrConfiguration, err)
		}
		saramaConfig.Version = version
	}

	return saramaConfig, nil
}

func (k *KafkaSink) getProducer() (sarama.SyncProducer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, fmt.Errorf("kafka sink is closed")
	}
	if k.producer != nil {
		return k.producer, nil
	}

	producer, err := k.newProducer()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	k.producer = producer
	return producer, nil
}

// Write sends the document to the target's topic. When key_field is set the
// document's value for that field becomes the message key.
//
// SendMessage cannot be interrupted, so ctx is only checked before sending.
// A send in flight is bounded by the configured timeout instead.
func (k *KafkaSink) Write(ctx context.Context, doc types.Document, target types.Target) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrSinkWrite, err)
	}

	producer, err := k.getProducer()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSinkWrite, err)
	}

	msg, err := buildMessage(doc, target)
	if err != nil {
		return err
	}

	if _, _, err := producer.SendMessage(msg); err != nil {
		return fmt.Errorf("%w: failed to send message to Kafka: %v", types.ErrSinkWrite, err)
	}

	return nil
}

// buildMessage creates a Kafka producer message from a document
func buildMessage(doc types.Document, target types.Target) (*sarama.ProducerMessage, error) {
	value, err := doc.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal document: %v", types.ErrSinkWrite, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: target.Param("topic"),
		Value: sarama.ByteEncoder(value),
	}

	if field := target.Param("key_field"); field != "" {
		if key, ok := doc[field]; ok && key != nil {
			msg.Key = sarama.StringEncoder(fmt.Sprint(key))
		}
	}

	return msg, nil
}

// Close closes the producer if one was created
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// Name returns the sink name
func (k *KafkaSink) Name() string {
	return string(types.TargetKafka)
}
