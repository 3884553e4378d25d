package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
)

// headerCarrier adapts record headers to the OpenTelemetry propagator.
type headerCarrier struct{ r *kgo.Record }

func (h headerCarrier) Get(key string) string {
	for _, hd := range h.r.Headers {
		if hd.Key == key {
			return string(hd.Value)
		}
	}
	return ""
}

func (h headerCarrier) Set(key, value string) {
	for i, hd := range h.r.Headers {
		if hd.Key == key {
			h.r.Headers[i].Value = []byte(value)
			return
		}
	}
	h.r.Headers = append(h.r.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h.r.Headers))
	for _, hd := range h.r.Headers {
		keys = append(keys, hd.Key)
	}
	return keys
}

// Producer publishes synchronously with franz-go.
type Producer struct {
	client *kgo.Client
	logger zerolog.Logger
}

func NewProducer(brokers []string, logger zerolog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Publish implements Publisher.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := tracing.Start(ctx, "casereview/kafka", "kafka.Publish",
		attribute.String("topic", topic), attribute.String("key", key))

	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{rec})

	err := p.client.ProduceSync(ctx, rec).FirstErr()
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("produce failed")
	}
	tracing.End(span, err)
	return err
}

func (p *Producer) Close() {
	p.client.Close()
}

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. A returned error is logged and the offset
// is still committed; handlers are expected to be idempotent upserts.
type Handler func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

type Consumer struct {
	client *kgo.Client
	logger zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info().Interface("partitions", assigned).Msg("partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info().Interface("partitions", revoked).Msg("partitions revoked")
			if err := cl.CommitUncommittedOffsets(ctx); err != nil {
				logger.Warn().Err(err).Msg("commit on revoke failed")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Run consumes until ctx is cancelled, committing after each poll.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			rctx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{rec})
			msg := Message{
				Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset,
				Key: rec.Key, Value: rec.Value, Timestamp: rec.Timestamp,
			}
			if err := handle(rctx, msg); err != nil {
				c.logger.Error().Err(err).Str("topic", rec.Topic).Int32("partition", rec.Partition).
					Int64("offset", rec.Offset).Msg("message handler failed")
			}
			c.client.MarkCommitRecords(rec)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("commit offsets failed")
		}
	}
}

// TopicSpec describes a topic to create when missing.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopics returns the case events and HIS feed topics.
func DefaultTopics(caseEvents, hisFeed string) []TopicSpec {
	ptr := func(s string) *string { return &s }
	return []TopicSpec{
		{
			Name:              caseEvents,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("2592000000"),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              hisFeed,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":   ptr("604800000"),
				"cleanup.policy": ptr("delete"),
			},
		},
	}
}

// EnsureTopics creates the given topics, ignoring ones that already exist.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec, logger zerolog.Logger) error {
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	admin := kadm.NewClient(cl)
	defer admin.Close()

	for _, spec := range specs {
		resp, err := admin.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor, spec.Configs, spec.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
		for _, r := range resp {
			switch {
			case errors.Is(r.Err, kerr.TopicAlreadyExists):
				logger.Debug().Str("topic", r.Topic).Msg("topic already exists")
			case r.Err != nil:
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			default:
				logger.Info().Str("topic", r.Topic).Int32("partitions", spec.Partitions).Msg("topic created")
			}
		}
	}
	return nil
}
