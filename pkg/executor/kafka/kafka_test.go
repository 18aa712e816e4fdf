package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4/zero"
)

func TestCleanUp(t *testing.T) {
	logger, err := lumber.NewLogger(&lumber.LoggingConfig{EnableConsole: true, ConsoleLevel: lumber.Error}, false, lumber.InstanceZapLogger)
	require.NoError(t, err)

	tests := []struct {
		name      string
		identity  core.ResourceIdentity
		deleteErr error
		status    core.StepStatus
		want      error
	}{
		{"deleted", core.KafkaTopic{Topic: "ci-events"}, nil, core.StepSuccess, nil},
		{"unknown topic", core.KafkaTopic{Topic: "ci-events"}, kafka.UnknownTopicOrPartition, core.StepSuccess, nil},
		{"not controller", core.KafkaTopic{Topic: "ci-events"}, kafka.NotController, core.StepRetryable, errs.ErrRetryableExternal},
		{"unauthorized", core.KafkaTopic{Topic: "ci-events"}, kafka.TopicAuthorizationFailed, core.StepFatal, errs.ErrPermanentExternal},
		{"connection", core.KafkaTopic{Topic: "ci-events"}, errors.New("connection reset"), core.StepRetryable, errs.ErrRetryableExternal},
		{"wrong kind", core.KubernetesNamespace{Namespace: "ci"}, nil, core.StepFatal, errs.ErrUnsupportedResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deleted []string
			executor := &topicExecutor{
				logger: logger,
				deleteTopic: func(ctx context.Context, topic string) error {
					deleted = append(deleted, topic)
					return tt.deleteErr
				},
			}
			res := executor.CleanUp(context.Background(), tt.identity, zero.String{})
			assert.Equal(t, tt.status, res.Status)
			if tt.want != nil {
				assert.True(t, errors.Is(res.Err, tt.want))
			}
			if _, ok := tt.identity.(core.KafkaTopic); ok {
				assert.Equal(t, []string{"ci-events"}, deleted)
			}
		})
	}
}
