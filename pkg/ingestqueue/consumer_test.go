package ingestqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/service/lifecycle"
	"github.com/LambdaTest/janitor/pkg/store/inmem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader returns its messages in order, then blocks until ctx is cancelled.
type fakeReader struct {
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

// flakyService fails the first failures registrations.
type flakyService struct {
	core.ResourceLifecycleService
	failures int
	calls    int
}

func (s *flakyService) CreateResource(ctx context.Context, req *core.CreateResourceRequest) (*core.TrackedResource, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("dial tcp mysql:3306: connection refused")
	}
	return s.ResourceLifecycleService.CreateResource(ctx, req)
}

const topicPayload = `{"identity":{"kind":"kafka_topic","value":{"topic":"ci-events"}},` +
	`"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z"}`

func newService(t *testing.T) (core.ResourceLifecycleService, lumber.Logger) {
	logger, err := lumber.NewLogger(&lumber.LoggingConfig{EnableConsole: true, ConsoleLevel: lumber.Error}, false, lumber.InstanceZapLogger)
	require.NoError(t, err)
	db := inmem.NewDB()
	resources := inmem.NewTrackedResourceStore(db)
	return lifecycle.New(db, resources, metrics.New(prometheus.NewRegistry()), logger), logger
}

func TestRun(t *testing.T) {
	service, logger := newService(t)

	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 0, Value: []byte(`{"identity":{"kind":"kafka_topic","value":{"topic":"ci-events"}},` +
			`"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z","labels":{"team":"ci"}}`)},
		{Offset: 1, Value: []byte(`not json`)},
		{Offset: 2, Value: []byte(`{"identity":{"kind":"gcs_bucket","value":{"bucket":"b"}},` +
			`"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z"}`)},
		{Offset: 3, Value: []byte(`{"identity":{"kind":"kafka_topic","value":{"topic":"ci-events"}},` +
			`"creation":"2026-10-17T09:00:00Z","expiration":"2026-10-19T08:00:00Z"}`)},
	}}
	c := newConsumer("ingest", reader, service, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.True(t, reader.closed)
	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed)
	registered, err := service.GetResources(context.Background(), core.KafkaTopic{Topic: "ci-events"})
	require.NoError(t, err)
	require.Len(t, registered, 2)
	states := map[core.ResourceState]int{}
	for _, r := range registered {
		states[r.State]++
	}
	assert.Equal(t, map[core.ResourceState]int{core.ResourceReady: 1, core.ResourceDuplicated: 1}, states)
}

func TestRunRetriesFailedRegistration(t *testing.T) {
	service, logger := newService(t)
	flaky := &flakyService{ResourceLifecycleService: service, failures: 2}
	reader := &fakeReader{messages: []kafka.Message{{Offset: 7, Value: []byte(topicPayload)}}}
	c := newConsumer("ingest", reader, flaky, logger)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, []int64{7}, reader.committed)
	registered, err := service.GetResources(context.Background(), core.KafkaTopic{Topic: "ci-events"})
	require.NoError(t, err)
	assert.Len(t, registered, 1)
}

func TestRunKeepsOffsetOfUnregisteredMessage(t *testing.T) {
	service, logger := newService(t)
	flaky := &flakyService{ResourceLifecycleService: service, failures: 1 << 30}
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 3, Value: []byte(topicPayload)},
		{Offset: 4, Value: []byte(topicPayload)},
	}}
	c := newConsumer("ingest", reader, flaky, logger)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.True(t, reader.closed)
	assert.Empty(t, reader.committed)
	assert.Len(t, reader.messages, 1)
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"identity":{"kind":"k8s_namespace","value":{"namespace":"ci"}},"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z"}`, false},
		{"missing identity", `{"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z"}`, true},
		{"unknown kind", `{"identity":{"kind":"gcs_bucket","value":{"bucket":"b"}},"creation":"2026-10-17T08:00:00Z","expiration":"2026-10-18T08:00:00Z"}`, true},
		{"missing expiration", `{"identity":{"kind":"k8s_namespace","value":{"namespace":"ci"}},"creation":"2026-10-17T08:00:00Z"}`, true},
		{"bad time", `{"identity":{"kind":"k8s_namespace","value":{"namespace":"ci"}},"creation":"yesterday","expiration":"2026-10-18T08:00:00Z"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.payload))
			if tt.wantErr {
				assert.True(t, errors.Is(err, errs.ErrInvalidQueuePayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, core.KindKubernetesNamespace, req.Identity.Kind)
		})
	}
}
