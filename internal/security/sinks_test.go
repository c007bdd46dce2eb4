package security

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

type fakeIndexer struct {
	index string
	id    string
	doc   any
}

func (i *fakeIndexer) IndexDocument(_ context.Context, index, id string, document any) error {
	i.index, i.id, i.doc = index, id, document
	return nil
}

func sampleEntry() LogEntry {
	return LogEntry{
		Timestamp:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Event:       EventLoginFailed,
		Data:        map[string]any{"attempts": 3},
		Fingerprint: "1x2y3z",
		UserAgent:   "test-agent",
		URL:         "console.example.com",
	}
}

func TestKafkaSink(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(producer, "security-events")

	require.NoError(t, sink.Emit(context.Background(), sampleEntry()))

	assert.Equal(t, "security-events", producer.topic)
	assert.Equal(t, []byte("1x2y3z"), producer.key)
	assert.Equal(t, EventLoginFailed, producer.headers["event"])

	var decoded LogEntry
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.Equal(t, EventLoginFailed, decoded.Event)
	assert.EqualValues(t, 3, decoded.Data["attempts"])
}

func TestElasticSink(t *testing.T) {
	indexer := &fakeIndexer{}
	sink := NewElasticSink(indexer, "security-events")

	require.NoError(t, sink.Emit(context.Background(), sampleEntry()))

	assert.Equal(t, "security-events", indexer.index)
	assert.NotEmpty(t, indexer.id)
	assert.Equal(t, sampleEntry(), indexer.doc)
}
