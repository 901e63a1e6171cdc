package nats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/finops/common/messaging"
)

func TestMessageHeadersRoundTrip(t *testing.T) {
	msg := toNATSMsg(&messaging.Message{
		Subject:  "finops.ingestion.jobs",
		Data:     []byte(`{"job_id":"j"}`),
		Metadata: map[string]string{"Nats-Msg-Id": "tenant:job"},
	})
	assert.Equal(t, "finops.ingestion.jobs", msg.Subject)
	assert.Equal(t, "tenant:job", msg.Header.Get("Nats-Msg-Id"))
	assert.Equal(t, map[string]string{"Nats-Msg-Id": "tenant:job"}, headersToMetadata(msg.Header))

	assert.Nil(t, toNATSMsg(&messaging.Message{Subject: "s"}).Header)
	assert.Nil(t, headersToMetadata(nil))
}

func setupTestNATS(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("NATS container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestClient_DrainDeliversInFlightMessages(t *testing.T) {
	url := setupTestNATS(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Name = "drain-test"
	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, client.CheckHealth(ctx))

	received := make(chan string, 10)
	_, err = client.conn.Subscribe("finops.test", func(m *nats.Msg) {
		time.Sleep(10 * time.Millisecond)
		received <- string(m.Data)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, client.PublishMsg(ctx, &messaging.Message{
			Subject: "finops.test",
			Data:    []byte(fmt.Sprintf("m%d", i)),
		}))
	}

	require.NoError(t, client.conn.Flush())
	require.NoError(t, client.Drain(5*time.Second))
	assert.Len(t, received, 5, "drain waits for queued messages to be handled")
	assert.Error(t, client.CheckHealth(ctx))
}
