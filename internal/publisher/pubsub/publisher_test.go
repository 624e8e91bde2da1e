package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/execution-probe/internal/extract"
)

func newTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "probe-runs")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPublisherPublishesNotification(t *testing.T) {
	srv, topic := newTopic(t)
	pub := New(topic)

	note := extract.RunNotification{
		RunID:       "run-1",
		ExecutionID: "88715",
		JourneyID:   "527218",
		ProjectID:   "4889",
		Checkpoints: 2,
		RawURI:      "file:///tmp/raw.json",
		ExitCode:    extract.ExitStructured,
	}
	id, err := pub.Publish(context.Background(), "ignored", note)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got extract.RunNotification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "88715", got.ExecutionID)
	assert.Equal(t, 2, got.Checkpoints)
	assert.Equal(t, "88715", msgs[0].Attributes["execution_id"])
	assert.Equal(t, "0", msgs[0].Attributes["exit_code"])
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", extract.RunNotification{})
	require.ErrorContains(t, err, "not configured")
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	assert.Empty(t, attributes("plain"))
	assert.Empty(t, attributes((*extract.RunNotification)(nil)))
	attrs := attributes(&extract.RunNotification{ExecutionID: "1", ExitCode: 1})
	assert.Equal(t, map[string]string{"execution_id": "1", "exit_code": "1"}, attrs)
}

func TestPubsubCarrier(t *testing.T) {
	t.Parallel()

	carrier := &pubsubCarrier{attrs: map[string]string{}}
	var _ propagation.TextMapCarrier = carrier
	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
