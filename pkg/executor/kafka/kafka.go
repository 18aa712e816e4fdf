// Package kafka deletes kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/segmentio/kafka-go"
	"gopkg.in/guregu/null.v4/zero"
)

// deleteFunc deletes a single topic.
type deleteFunc func(ctx context.Context, topic string) error

type topicExecutor struct {
	deleteTopic deleteFunc
	logger      lumber.Logger
}

// New returns an executor deleting topics from the configured cluster.
func New(cfg *config.Config, logger lumber.Logger) core.CleanupExecutor {
	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	return &topicExecutor{deleteTopic: controllerDeleter(brokers, logger), logger: logger}
}

// controllerDeleter deletes topics through the cluster controller, reached via
// the first broker that answers.
func controllerDeleter(brokers []string, logger lumber.Logger) deleteFunc {
	return func(ctx context.Context, topic string) error {
		var dialErr error
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", strings.TrimSpace(broker))
			if err != nil {
				logger.Warnf("failed to dial kafka broker %s, error: %v", broker, err)
				dialErr = err
				continue
			}
			controller, err := conn.Controller()
			conn.Close()
			if err != nil {
				return err
			}
			controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
			if err != nil {
				return err
			}
			defer controllerConn.Close()
			return controllerConn.DeleteTopics(topic)
		}
		return dialErr
	}
}

func (t *topicExecutor) CleanUp(ctx context.Context, identity core.ResourceIdentity, metadata zero.String) core.StepResult {
	id, ok := identity.(core.KafkaTopic)
	if !ok {
		return core.StepFailed(fmt.Errorf("%w: kind %s", errs.ErrUnsupportedResource, identity.Kind()))
	}
	t.logger.Debugf("deleting kafka topic %s", id.Topic)
	return classify(t.deleteTopic(ctx, id.Topic))
}

func classify(err error) core.StepResult {
	if err == nil {
		return core.StepSucceeded()
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch {
		case kerr == kafka.UnknownTopicOrPartition:
			return core.StepSucceeded()
		case kerr.Temporary():
			return core.StepRetry(fmt.Errorf("%w: %v", errs.ErrRetryableExternal, err))
		default:
			return core.StepFailed(fmt.Errorf("%w: %v", errs.ErrPermanentExternal, err))
		}
	}
	// dial failures and broken connections
	return core.StepRetry(fmt.Errorf("%w: %v", errs.ErrRetryableExternal, err))
}
