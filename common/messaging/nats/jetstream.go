package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before giving up.
	MaxDeliver int

	// MaxAckPending is maximum unacknowledged messages.
	MaxAckPending int
}

// ConsumeOptions controls how handler failures are acknowledged.
type ConsumeOptions struct {
	// NakDelay is how long the server waits before redelivering a message
	// whose handler returned a non-terminal error.
	NakDelay time.Duration
}

// DefaultConsumerConfig returns sensible defaults for a consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// PublishMsg publishes msg to JetStream and waits for the server to persist it.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if _, err := c.js.PublishMsg(ctx, toNATSMsg(msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// ConsumeMessages starts consuming messages from a durable consumer.
// Successful messages are acked, terminal failures are terminated and any
// other failure is NAKed for delayed redelivery. Returns a stop function.
func (c *JetStreamClient) ConsumeMessages(ctx context.Context, streamName, consumerName string, opts ConsumeOptions, handler messaging.MessageHandler) (func(), error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	nakDelay := opts.NakDelay
	if nakDelay <= 0 {
		nakDelay = 5 * time.Second
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Metadata:  headersToMetadata(msg.Headers()),
			Timestamp: time.Now(),
		}
		if meta, err := msg.Metadata(); err == nil {
			m.Deliveries = meta.NumDelivered
			m.Timestamp = meta.Timestamp
		}

		if err := handler(consumeCtx, m); err != nil {
			if messaging.IsTerminal(err) {
				if termErr := msg.Term(); termErr != nil {
					c.logger.Warn("failed to terminate message", logging.Error(termErr))
				}
				return
			}
			if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
				c.logger.Warn("failed to nak message", logging.Error(nakErr))
			}
			return
		}

		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("failed to ack message", logging.Error(ackErr))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() {
		cancel()
		cons.Stop()
	}, nil
}

// IngestionJobsStream captures ingestion work items. Work-queue retention
// removes a message once a worker acknowledges it.
var IngestionJobsStream = StreamConfig{
	Name:      messaging.StreamIngestionJobs,
	Subjects:  []string{"ingestion.jobs.>"},
	MaxAge:    24 * time.Hour,
	MaxBytes:  100 * 1024 * 1024, // 100MB
	MaxMsgs:   1000000,
	Retention: jetstream.WorkQueuePolicy,
	Storage:   jetstream.FileStorage,
}
