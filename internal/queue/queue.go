// Package queue carries ingestion work items over JetStream. A work item is
// the (job_id, tenant_id) pair; the job itself lives in the database.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/common/messaging"
	natsclient "github.com/telhawk-systems/finops/common/messaging/nats"
	"github.com/telhawk-systems/finops/internal/config"
)

// ErrInvalidMessage is returned for work items that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid ingestion message")

// Message is the ingestion work item.
type Message struct {
	JobID    uuid.UUID `json:"job_id"`
	TenantID uuid.UUID `json:"tenant_id"`
}

// Queue publishes work items to a subject.
type Queue struct {
	pub     messaging.Publisher
	subject string
}

func New(pub messaging.Publisher, subject string) *Queue {
	if subject == "" {
		subject = messaging.SubjectIngestionJobsProcess
	}
	return &Queue{pub: pub, subject: subject}
}

// Enqueue publishes one work item. Delivery is at-least-once, so consumers
// must tolerate duplicates.
func (q *Queue) Enqueue(ctx context.Context, tenantID, jobID uuid.UUID) error {
	data, err := json.Marshal(Message{JobID: jobID, TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion message: %w", err)
	}
	msg := &messaging.Message{
		Subject: q.subject,
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderTenantID: tenantID.String(),
			messaging.HeaderJobID:    jobID.String(),
		},
		Timestamp: time.Now().UTC(),
	}
	if err := q.pub.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Decode extracts the work item from msg. The JSON body wins; headers fill
// in anything the body left empty.
func Decode(msg *messaging.Message) (Message, error) {
	var m Message
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	}
	if m.JobID == uuid.Nil {
		if id, err := uuid.Parse(msg.Metadata[messaging.HeaderJobID]); err == nil {
			m.JobID = id
		}
	}
	if m.TenantID == uuid.Nil {
		if id, err := uuid.Parse(msg.Metadata[messaging.HeaderTenantID]); err == nil {
			m.TenantID = id
		}
	}
	if m.JobID == uuid.Nil || m.TenantID == uuid.Nil {
		return Message{}, fmt.Errorf("%w: job_id and tenant_id are required", ErrInvalidMessage)
	}
	return m, nil
}

// Handler adapts fn to a messaging.MessageHandler. Undecodable messages are
// terminal since redelivery cannot fix them.
func Handler(fn func(ctx context.Context, m Message, deliveries uint64) error) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		m, err := Decode(msg)
		if err != nil {
			return messaging.Terminal(err)
		}
		return fn(ctx, m, msg.Deliveries)
	}
}

// Consumer is the consuming side of a JetStream client.
type Consumer interface {
	ConsumeMessages(ctx context.Context, streamName, consumerName string, opts natsclient.ConsumeOptions, handler messaging.MessageHandler) (func(), error)
}

// Setup creates the work-queue stream and the durable worker consumer.
func Setup(ctx context.Context, js *natsclient.JetStreamClient, cfg config.NATSConfig) error {
	stream := StreamConfig(cfg)
	if _, err := js.CreateOrUpdateStream(ctx, stream); err != nil {
		return err
	}
	consumer := ConsumerConfig(cfg)
	if _, err := js.CreateOrUpdateConsumer(ctx, stream.Name, consumer); err != nil {
		return err
	}
	return nil
}

// StreamConfig derives the stream definition from cfg, starting from the
// shared ingestion stream defaults.
func StreamConfig(cfg config.NATSConfig) natsclient.StreamConfig {
	stream := natsclient.IngestionJobsStream
	if cfg.Stream != "" {
		stream.Name = cfg.Stream
	}
	if cfg.Subject != "" {
		stream.Subjects = []string{cfg.Subject}
	}
	return stream
}

// ConsumerConfig derives the durable consumer definition from cfg.
func ConsumerConfig(cfg config.NATSConfig) natsclient.ConsumerConfig {
	name := cfg.Consumer
	if name == "" {
		name = messaging.ConsumerIngestionWorkers
	}
	subject := cfg.Subject
	if subject == "" {
		subject = messaging.SubjectIngestionJobsProcess
	}
	c := natsclient.DefaultConsumerConfig(name, subject)
	if cfg.MaxDeliver > 0 {
		c.MaxDeliver = cfg.MaxDeliver
	}
	if cfg.AckWait > 0 {
		c.AckWait = cfg.AckWait
	}
	return c
}

// Consume runs handler over the durable consumer until ctx is cancelled.
func Consume(ctx context.Context, c Consumer, cfg config.NATSConfig, handler messaging.MessageHandler) error {
	stream := StreamConfig(cfg)
	consumer := ConsumerConfig(cfg)
	stop, err := c.ConsumeMessages(ctx, stream.Name, consumer.Name, natsclient.ConsumeOptions{NakDelay: cfg.NakDelay}, handler)
	if err != nil {
		return err
	}
	<-ctx.Done()
	stop()
	return nil
}
