package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Sink interface {
	Write(ctx context.Context, event Event) error
}

type NoOpSink struct{}

func (NoOpSink) Write(context.Context, Event) error { return nil }

// MultiSink writes each event to every sink concurrently and returns the
// first error. A failing sink does not stop the others.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event Event) error {
	var g errgroup.Group
	for _, s := range m {
		s := s
		g.Go(func() error {
			return s.Write(ctx, event)
		})
	}
	return g.Wait()
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Info("Security event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("phone_hash", event.PhoneHash),
		zap.String("ip", event.IP),
		zap.String("fingerprint", event.Fingerprint),
		zap.String("reason", event.Reason))
	return nil
}

type kafkaProducer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes events keyed by phone hash so one subscriber's events
// stay ordered within a partition.
type KafkaSink struct {
	producer kafkaProducer
}

func NewKafkaSink(producer kafkaProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Write(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal event: %w", err)
	}
	key := event.PhoneHash
	if key == "" {
		key = event.ID
	}
	return s.producer.ProduceMessage(ctx, []byte(key), value, map[string]string{
		"event_type": string(event.Type),
	})
}

type batchInserter interface {
	Exec(ctx context.Context, query string, args ...any) error
	BatchInsert(ctx context.Context, query string, rows [][]any) error
}

// ClickHouseSink appends events to a MergeTree table.
type ClickHouseSink struct {
	client batchInserter
	table  string
}

func NewClickHouseSink(client batchInserter, table string) *ClickHouseSink {
	return &ClickHouseSink{client: client, table: table}
}

// EnsureTable creates the events table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id String,
		type LowCardinality(String),
		phone_hash String,
		ip String,
		fingerprint String,
		reason String,
		time DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(time)
	ORDER BY (type, time)`, s.table)
	if err := s.client.Exec(ctx, query); err != nil {
		return fmt.Errorf("clickhouse sink: create table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, event Event) error {
	query := fmt.Sprintf("INSERT INTO %s (id, type, phone_hash, ip, fingerprint, reason, time)", s.table)
	row := []any{
		event.ID,
		string(event.Type),
		event.PhoneHash,
		event.IP,
		event.Fingerprint,
		event.Reason,
		event.Time,
	}
	if err := s.client.BatchInsert(ctx, query, [][]any{row}); err != nil {
		return fmt.Errorf("clickhouse sink: %w", err)
	}
	return nil
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

type ElasticsearchSink struct {
	client documentIndexer
	index  string
}

func NewElasticsearchSink(client documentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Write(ctx context.Context, event Event) error {
	if err := s.client.IndexDocument(ctx, s.index, event.ID, event); err != nil {
		return fmt.Errorf("elasticsearch sink: %w", err)
	}
	return nil
}
