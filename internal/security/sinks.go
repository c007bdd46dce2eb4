package security

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventProducer is the subset of the Kafka producer the audit fan-out needs.
type EventProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes entries to a topic, keyed by session fingerprint so a
// session's events stay ordered within a partition.
type KafkaSink struct {
	producer EventProducer
	topic    string
}

func NewKafkaSink(producer EventProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Emit(ctx context.Context, entry LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}
	headers := map[string]string{"event": entry.Event}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(entry.Fingerprint), value, headers)
}

// DocumentIndexer is the subset of the Elasticsearch client the audit
// fan-out needs.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

// ElasticSink indexes every entry as its own document.
type ElasticSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticSink(indexer DocumentIndexer, index string) *ElasticSink {
	return &ElasticSink{indexer: indexer, index: index}
}

func (s *ElasticSink) Emit(ctx context.Context, entry LogEntry) error {
	return s.indexer.IndexDocument(ctx, s.index, uuid.NewString(), entry)
}
