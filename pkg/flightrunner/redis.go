package flightrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/utils"
	"github.com/alphayan/redisqueue/v3"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
)

const (
	blockingTimeout     = 5 * time.Second
	reclaimInterval     = 30 * time.Second
	statusWriteTimeout  = 10 * time.Second
	fieldStatus         = "status"
	fieldFlightID       = "flightID"
	fieldExecutorRef    = "executorRef"
	fieldInputs         = "inputs"
	healthCheckDeadline = 2 * time.Second
)

// Redis is a core.WorkflowRuntime backed by a redis stream. Submitted flights are
// appended to the stream and executed by the consumer group of every janitor
// process. A flight not acknowledged within the visibility timeout is redelivered,
// so a crashed worker's flights run again elsewhere. Flight statuses are kept in
// a hash per flight.
type Redis struct {
	client   redis.UniversalClient
	consumer *redisqueue.Consumer
	builder  *Builder
	logger   lumber.Logger

	mu       sync.Mutex
	quiesced bool
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedis returns a runtime using the redis client of redisDB.
func NewRedis(redisDB core.RedisDB, builder *Builder, cfg *config.FlightConfig, logger lumber.Logger) (*Redis, error) {
	consumer, err := redisqueue.NewConsumerWithOptions(
		&redisqueue.ConsumerOptions{
			GroupName:         constants.FlightStreamGroup,
			VisibilityTimeout: cfg.VisibilityTimeout,
			BlockingTimeout:   blockingTimeout,
			ReclaimInterval:   reclaimInterval,
			Concurrency:       cfg.Concurrency,
			BufferSize:        cfg.Concurrency,
			RedisClient:       redisDB.Client(),
		},
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client:   redisDB.Client(),
		consumer: consumer,
		builder:  builder,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func statusKey(flightID string) string {
	return constants.FlightStatusKeyPrefix + flightID
}

// CreateFlightID implements core.WorkflowRuntime.
func (r *Redis) CreateFlightID() string {
	return utils.GenerateUUID()
}

// Submit implements core.WorkflowRuntime. The status hash and the stream entry are
// written in one transaction, a flight id that already has a status is ignored.
func (r *Redis) Submit(ctx context.Context, flightID, executorRef string, inputs *core.FlightInputs) error {
	if r.isQuiesced() {
		return errs.ErrRuntimeQuiesced
	}
	values, err := encodeFlight(flightID, executorRef, inputs)
	if err != nil {
		return err
	}
	key := statusKey(flightID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Debugf("flight %s already submitted", flightID)
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldStatus, string(core.RuntimeFlightActive), fieldExecutorRef, executorRef)
			pipe.Expire(ctx, key, constants.FlightStatusTTL)
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: constants.FlightStream,
				MaxLen: constants.FlightStreamMaxLen,
				Approx: true,
				Values: values,
			})
			return nil
		})
		return err
	}, key)
}

// GetFlightState implements core.WorkflowRuntime.
func (r *Redis) GetFlightState(ctx context.Context, flightID string) (core.RuntimeFlightStatus, error) {
	status, err := r.client.HGet(ctx, statusKey(flightID), fieldStatus).Result()
	if err != nil {
		if err == redis.Nil {
			return core.RuntimeFlightUnknown, nil
		}
		return core.RuntimeFlightUnknown, err
	}
	return core.RuntimeFlightStatus(status), nil
}

func (r *Redis) setStatus(flightID string, status core.RuntimeFlightStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	key := statusKey(flightID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldStatus, string(status))
		pipe.Expire(ctx, key, constants.FlightStatusTTL)
		return nil
	})
	return err
}

// Run executes flights from the stream until ctx is cancelled or the runtime is
// quieted down.
func (r *Redis) Run(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.quiesced {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.done)

	r.consumer.Register(constants.FlightStream, r.handle)
	go func() {
		for err := range r.consumer.Errors {
			r.logger.Errorf("flight consumer error: %v", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stop:
		}
		r.consumer.Shutdown()
		r.logger.Debugf("closed flight consumer")
	}()
	r.consumer.Run()
}

// handle executes one flight. Returning an error leaves the message unacknowledged
// so it is redelivered after the visibility timeout.
func (r *Redis) handle(msg *redisqueue.Message) error {
	flightID, executorRef, inputs, err := decodeFlight(msg.Values)
	if err != nil {
		r.logger.Errorf("discarding flight message %s, error: %v", msg.ID, err)
		if flightID != "" {
			if serr := r.setStatus(flightID, core.RuntimeFlightFatal); serr != nil {
				r.logger.Errorf("failed to mark flight %s fatal, error: %v", flightID, serr)
			}
		}
		return nil
	}
	status, err := r.GetFlightState(r.ctx, flightID)
	if err != nil {
		return err
	}
	if status == core.RuntimeFlightSuccess || status == core.RuntimeFlightFatal {
		r.logger.Debugf("flight %s already completed with status %s", flightID, status)
		return nil
	}

	fc := &core.FlightContext{FlightID: flightID, Inputs: inputs}
	status, err = runFlight(r.ctx, r.logger, fc, r.builder.Build(executorRef))
	if err != nil {
		r.logger.Warnf("flight %s interrupted, error: %v", flightID, err)
		return err
	}
	if err := r.setStatus(flightID, status); err != nil {
		r.logger.Errorf("failed to record status %s of flight %s, error: %v", status, flightID, err)
		return err
	}
	r.logger.Infof("flight %s completed with status %s", flightID, status)
	return nil
}

// QuietDown implements core.WorkflowRuntime.
func (r *Redis) QuietDown(ctx context.Context, timeout time.Duration) error {
	if !r.shutdown() {
		return nil
	}
	return r.wait(ctx, timeout)
}

// Terminate implements core.WorkflowRuntime. Interrupted flights stay unacknowledged
// and are picked up again once their visibility timeout expires.
func (r *Redis) Terminate(ctx context.Context, timeout time.Duration) error {
	started := r.shutdown()
	r.cancel()
	if !started {
		return nil
	}
	return r.wait(ctx, timeout)
}

// shutdown stops accepting flights and stops the consumer. It reports whether the
// consumer was started.
func (r *Redis) shutdown() bool {
	r.mu.Lock()
	r.quiesced = true
	started := r.started
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
	return started
}

func (r *Redis) wait(ctx context.Context, timeout time.Duration) error {
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return errs.ErrTimeoutExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Redis) isQuiesced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quiesced
}

// Healthy implements core.WorkflowRuntime.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r.isQuiesced() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckDeadline)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Errorf("redis ping failed, error: %v", err)
		return false
	}
	return true
}

func encodeFlight(flightID, executorRef string, inputs *core.FlightInputs) (map[string]interface{}, error) {
	payload, err := jsoniter.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		fieldFlightID:    flightID,
		fieldExecutorRef: executorRef,
		fieldInputs:      string(payload),
	}, nil
}

// decodeFlight returns the flight id whenever it is present, even if the rest of
// the message is malformed.
func decodeFlight(values map[string]interface{}) (flightID, executorRef string, inputs *core.FlightInputs, err error) {
	flightID, _ = values[fieldFlightID].(string)
	if flightID == "" {
		return "", "", nil, fmt.Errorf("%w: missing %s", errs.ErrInvalidQueuePayload, fieldFlightID)
	}
	executorRef, _ = values[fieldExecutorRef].(string)
	if executorRef == "" {
		return flightID, "", nil, fmt.Errorf("%w: missing %s", errs.ErrInvalidQueuePayload, fieldExecutorRef)
	}
	raw, _ := values[fieldInputs].(string)
	inputs = new(core.FlightInputs)
	if err := jsoniter.UnmarshalFromString(raw, inputs); err != nil {
		return flightID, "", nil, fmt.Errorf("%w: %v", errs.ErrInvalidQueuePayload, err)
	}
	return flightID, executorRef, inputs, nil
}
