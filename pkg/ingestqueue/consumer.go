// Package ingestqueue registers resources published to the ingestion topic.
package ingestqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/avast/retry-go/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	registerAttempts   = 5
	registerRetryDelay = 5 * time.Second
)

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	topicName  string
	reader     messageReader
	lifecycle  core.ResourceLifecycleService
	retryDelay time.Duration
	logger     lumber.Logger
}

// NewConsumer returns a consumer of the ingestion topic.
func NewConsumer(cfg *config.Config,
	lifecycle core.ResourceLifecycleService,
	logger lumber.Logger) core.QueueConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               strings.Split(cfg.Kafka.Brokers, ","),
		Topic:                 cfg.Kafka.IngestionConfig.Topic,
		ErrorLogger:           kafka.LoggerFunc(logger.Errorf),
		GroupID:               cfg.Kafka.IngestionConfig.ConsumerGroup,
		WatchPartitionChanges: true,
		GroupBalancers:        []kafka.GroupBalancer{kafka.RoundRobinGroupBalancer{}}})
	logger.Infof("Kafka Consumer Group %s created successfully", reader.Config().GroupID)
	return newConsumer(reader.Config().Topic, reader, lifecycle, logger)
}

func newConsumer(topicName string,
	reader messageReader,
	lifecycle core.ResourceLifecycleService,
	logger lumber.Logger) *consumer {
	return &consumer{
		topicName:  topicName,
		reader:     reader,
		lifecycle:  lifecycle,
		retryDelay: registerRetryDelay,
		logger:     logger,
	}
}

// Run registers messages one at a time so registrations of an identity on one
// partition resolve duplicates in publish order. An offset is committed only after
// its message is registered or rejected as malformed.
func (c *consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			c.logger.Errorf("Kafka FetchMessage of topic: %v failed: %v", c.topicName, err)
			continue
		}
		c.logger.Debugf("Kafka: Message received on partition: %d, offset: %d, topic: %s", msg.Partition, msg.Offset, msg.Topic)
		if !c.register(ctx, msg) {
			break
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Errorf("failed to commit offset %d of partition %d, error: %v", msg.Offset, msg.Partition, err)
		}
	}

	if err := c.Close(); err != nil {
		c.logger.Errorf("failed to closed kafka reader, error: %v", err)
		return
	}
	c.logger.Debugf("Kafka consumer closed successfully for topic %s", c.topicName)
}

// register reports whether the offset of msg may be committed. A failed registration
// is retried until it succeeds or ctx is done: committing a later offset of the
// partition commits this one too.
func (c *consumer) register(ctx context.Context, msg kafka.Message) bool {
	req, err := decodeRequest(msg.Value)
	if err != nil {
		c.logger.Errorf("skipping message at partition %d offset %d, error: %v", msg.Partition, msg.Offset, err)
		return true
	}
	for ctx.Err() == nil {
		err = retry.Do(func() error {
			resource, err := c.lifecycle.CreateResource(ctx, req)
			if err != nil {
				return err
			}
			c.logger.Infof("registered resource %s in state %s", resource.ID, resource.State)
			return nil
		},
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.Attempts(registerAttempts),
			retry.Delay(c.retryDelay),
			retry.DelayType(retry.FixedDelay))
		if err == nil {
			return true
		}
		c.logger.Errorf("failed to register resource from partition %d offset %d, error: %v", msg.Partition, msg.Offset, err)
	}
	return false
}

func decodeRequest(value []byte) (*core.CreateResourceRequest, error) {
	req := new(core.CreateResourceRequest)
	if err := json.Unmarshal(value, req); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidQueuePayload, err)
	}
	if req.Identity.Kind == "" || len(req.Identity.Value) == 0 {
		return nil, fmt.Errorf("%w: missing identity", errs.ErrInvalidQueuePayload)
	}
	if _, err := req.Identity.Identity(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidQueuePayload, err)
	}
	if req.Expiration.IsZero() {
		return nil, fmt.Errorf("%w: missing expiration", errs.ErrInvalidQueuePayload)
	}
	if req.Creation.IsZero() {
		return nil, fmt.Errorf("%w: missing creation", errs.ErrInvalidQueuePayload)
	}
	return req, nil
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
