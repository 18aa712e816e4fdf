// Package flightscheduler runs the periodic loops that submit cleanup flights for
// expired resources and fold finished flights back into resource state.
package flightscheduler

import (
	"context"
	"sync"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

const (
	maxRetries = 3
	delay      = 250 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
	errMsg     = "failed to perform flight reconciliation transaction"
)

type scheduler struct {
	db            core.DB
	manager       core.FlightManager
	runtime       core.WorkflowRuntime
	resourceStore core.TrackedResourceStore
	flightStore   core.CleanupFlightStore
	metrics       *metrics.Metrics
	cfg           *config.FlightConfig
	logger        lumber.Logger
	now           func() time.Time

	// reconcileCursor is the last flight id of the previous full reconcile page.
	reconcileCursor string

	mu          sync.Mutex
	initialized bool
	running     bool
	stop        context.CancelFunc
	stopped     chan struct{}
}

// New returns a new Scheduler.
func New(db core.DB,
	manager core.FlightManager,
	runtime core.WorkflowRuntime,
	resourceStore core.TrackedResourceStore,
	flightStore core.CleanupFlightStore,
	m *metrics.Metrics,
	cfg *config.FlightConfig,
	logger lumber.Logger) core.Scheduler {
	return &scheduler{
		db:            db,
		manager:       manager,
		runtime:       runtime,
		resourceStore: resourceStore,
		flightStore:   flightStore,
		metrics:       m,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		stopped:       make(chan struct{}),
	}
}

func (s *scheduler) Initialize(ctx context.Context) error {
	if !s.runtime.Healthy(ctx) {
		return errs.ErrRuntimeUnhealthy
	}
	recovered := s.manager.RecoverUnsubmittedFlights(ctx)
	s.logger.Infof("scheduler initialized, %d flights resubmitted", recovered)
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Run blocks until ctx is cancelled or Shutdown is called.
func (s *scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if !s.initialized || s.running {
		s.mu.Unlock()
		s.logger.Errorf("scheduler must be initialized and run once")
		return
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()
	defer close(s.stopped)

	s.logger.Infof("Starting cleanup scheduler")
	g, errCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(errCtx, s.cfg.SubmitInterval, s.submitPending)
		return nil
	})
	g.Go(func() error {
		s.loop(errCtx, s.cfg.ReconcileInterval, s.reconcile)
		return nil
	})
	_ = g.Wait()
	s.logger.Debugf("Closed cleanup scheduler")
}

func (s *scheduler) loop(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	if running {
		select {
		case <-s.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.runtime.QuietDown(ctx, s.cfg.QuietDownTimeout); err != nil {
		s.logger.Errorf("workflow runtime did not quiet down, terminating running flights, error: %v", err)
		return s.runtime.Terminate(ctx, s.cfg.TerminateTimeout)
	}
	return nil
}

// submitPending submits flights until nothing expired is left to claim.
func (s *scheduler) submitPending(ctx context.Context) {
	submitted := 0
	for ctx.Err() == nil {
		if _, ok := s.manager.SubmitFlight(ctx, s.now()); !ok {
			break
		}
		submitted++
	}
	if submitted > 0 {
		s.logger.Infof("submitted %d cleanup flights", submitted)
	}
}

// reconcile moves finished flights and their resources to a terminal state.
// Running it again over the same flights changes nothing. Each pass reads the page
// after the previous one, so flights the runtime still reports as active or unknown
// cannot keep the rest out of the window.
func (s *scheduler) reconcile(ctx context.Context) {
	pairs, err := s.resourceStore.FindByFlightState(ctx, core.FlightFinishing, s.reconcileCursor, s.cfg.ReconcileLimit)
	if err != nil {
		s.logger.Errorf("failed to find %s flights, error: %v", core.FlightFinishing, err)
		return
	}
	if len(pairs) == 0 || len(pairs) < s.cfg.ReconcileLimit {
		s.reconcileCursor = ""
	} else {
		s.reconcileCursor = pairs[len(pairs)-1].Flight.FlightID
	}
	for _, pair := range pairs {
		flightID := pair.Flight.FlightID
		status, err := s.runtime.GetFlightState(ctx, flightID)
		if err != nil {
			s.logger.Errorf("failed to get runtime state of flight %s, error: %v", flightID, err)
			continue
		}
		var (
			flightState   core.FlightState
			resourceState core.ResourceState
			outcome       string
		)
		switch status {
		case core.RuntimeFlightSuccess:
			flightState, resourceState, outcome = core.FlightFinished, core.ResourceDone, metrics.OutcomeSuccess
		case core.RuntimeFlightFatal:
			flightState, resourceState, outcome = core.FlightFatal, core.ResourceError, metrics.OutcomeFatal
		default:
			continue
		}
		completed, err := s.complete(ctx, pair.Flight.FlightID, pair.Resource.ID, flightState, resourceState)
		if err != nil {
			s.logger.Errorf("failed to complete flight %s, error: %v", flightID, err)
			continue
		}
		if completed {
			s.metrics.FlightCompleted(outcome)
			s.logger.Infof("flight %s of resource %s is %s", flightID, pair.Resource.ID, flightState)
		}
	}
	s.refreshMetrics(ctx)
}

// complete moves the flight from FINISHING to flightState and, if that happened and
// the resource is still CLEANING, the resource to resourceState.
func (s *scheduler) complete(ctx context.Context,
	flightID, resourceID string,
	flightState core.FlightState,
	resourceState core.ResourceState) (bool, error) {
	completed := false
	err := s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		completed = false
		n, err := s.flightStore.UpdateStateInTx(ctx, tx, flightID, core.FlightFinishing, flightState)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		completed = true
		resource, err := s.resourceStore.FindByIDInTx(ctx, tx, resourceID, true)
		if err != nil {
			return err
		}
		if resource.State != core.ResourceCleaning {
			s.logger.Infof("resource %s is %s, leaving it as is", resourceID, resource.State)
			return nil
		}
		return s.resourceStore.UpdateStateInTx(ctx, tx, resourceID, resourceState)
	})
	if err != nil {
		return false, err
	}
	return completed, nil
}

func (s *scheduler) refreshMetrics(ctx context.Context) {
	counts, err := s.resourceStore.CountByState(ctx)
	if err != nil {
		s.logger.Errorf("failed to count resources, error: %v", err)
		return
	}
	s.metrics.SetResourceCounts(counts)
}
