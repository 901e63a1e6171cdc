package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/finops/common/messaging"
	natsclient "github.com/telhawk-systems/finops/common/messaging/nats"
	"github.com/telhawk-systems/finops/internal/config"
)

type recordingPublisher struct {
	msgs []*messaging.Message
	err  error
}

func (p *recordingPublisher) PublishMsg(_ context.Context, msg *messaging.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestEnqueue(t *testing.T) {
	pub := &recordingPublisher{}
	q := New(pub, "")
	tenant, job := uuid.New(), uuid.New()

	require.NoError(t, q.Enqueue(context.Background(), tenant, job))
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, messaging.SubjectIngestionJobsProcess, msg.Subject)
	assert.Equal(t, tenant.String(), msg.Metadata[messaging.HeaderTenantID])
	assert.Equal(t, job.String(), msg.Metadata[messaging.HeaderJobID])

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, job.String(), body["job_id"])
	assert.Equal(t, tenant.String(), body["tenant_id"])
}

func TestEnqueue_PublishError(t *testing.T) {
	q := New(&recordingPublisher{err: errors.New("nats: no responders")}, "custom.subject")
	err := q.Enqueue(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}

func TestDecode(t *testing.T) {
	tenant, job := uuid.New(), uuid.New()
	body, _ := json.Marshal(Message{JobID: job, TenantID: tenant})

	tests := []struct {
		name    string
		msg     *messaging.Message
		want    Message
		wantErr bool
	}{
		{
			name: "json body",
			msg:  &messaging.Message{Data: body},
			want: Message{JobID: job, TenantID: tenant},
		},
		{
			name: "headers only",
			msg: &messaging.Message{Metadata: map[string]string{
				messaging.HeaderJobID:    job.String(),
				messaging.HeaderTenantID: tenant.String(),
			}},
			want: Message{JobID: job, TenantID: tenant},
		},
		{
			name:    "malformed body",
			msg:     &messaging.Message{Data: []byte("{")},
			wantErr: true,
		},
		{
			name:    "missing tenant",
			msg:     &messaging.Message{Data: []byte(`{"job_id":"` + job.String() + `"}`)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler(t *testing.T) {
	var got Message
	var deliveries uint64
	h := Handler(func(_ context.Context, m Message, n uint64) error {
		got, deliveries = m, n
		return nil
	})

	tenant, job := uuid.New(), uuid.New()
	body, _ := json.Marshal(Message{JobID: job, TenantID: tenant})
	require.NoError(t, h(context.Background(), &messaging.Message{Data: body, Deliveries: 3}))
	assert.Equal(t, job, got.JobID)
	assert.Equal(t, uint64(3), deliveries)

	err := h(context.Background(), &messaging.Message{Data: []byte("not json")})
	assert.True(t, messaging.IsTerminal(err))
}

func TestStreamAndConsumerConfig(t *testing.T) {
	cfg := config.NATSConfig{
		Subject:    "ingestion.jobs.process",
		Stream:     "INGESTION_JOBS",
		Consumer:   "ingestion-workers",
		MaxDeliver: 7,
		AckWait:    time.Minute,
	}

	stream := StreamConfig(cfg)
	assert.Equal(t, "INGESTION_JOBS", stream.Name)
	assert.Equal(t, []string{"ingestion.jobs.process"}, stream.Subjects)

	consumer := ConsumerConfig(cfg)
	assert.Equal(t, "ingestion-workers", consumer.Name)
	assert.Equal(t, "ingestion.jobs.process", consumer.FilterSubject)
	assert.Equal(t, 7, consumer.MaxDeliver)
	assert.Equal(t, time.Minute, consumer.AckWait)

	defaults := ConsumerConfig(config.NATSConfig{})
	assert.Equal(t, messaging.ConsumerIngestionWorkers, defaults.Name)
	assert.Equal(t, 5, defaults.MaxDeliver)
}

type fakeConsumer struct {
	stream, consumer string
	opts             natsclient.ConsumeOptions
	stopped          bool
}

func (f *fakeConsumer) ConsumeMessages(_ context.Context, stream, consumer string, opts natsclient.ConsumeOptions, _ messaging.MessageHandler) (func(), error) {
	f.stream, f.consumer, f.opts = stream, consumer, opts
	return func() { f.stopped = true }, nil
}

func TestConsume_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := &fakeConsumer{}
	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, fc, config.NATSConfig{NakDelay: 10 * time.Second}, Handler(func(context.Context, Message, uint64) error { return nil }))
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
	assert.True(t, fc.stopped)
	assert.Equal(t, messaging.StreamIngestionJobs, fc.stream)
	assert.Equal(t, 10*time.Second, fc.opts.NakDelay)
}
