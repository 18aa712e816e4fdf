package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/utils"
	"github.com/jmoiron/sqlx"
)

const (
	maxRetries = 3
	delay      = 250 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
	errMsg     = "failed to perform resource lifecycle transaction"
)

type service struct {
	db            core.DB
	resourceStore core.TrackedResourceStore
	metrics       *metrics.Metrics
	logger        lumber.Logger
}

// New returns the ResourceLifecycleService object
func New(db core.DB,
	resourceStore core.TrackedResourceStore,
	m *metrics.Metrics,
	logger lumber.Logger) core.ResourceLifecycleService {
	return &service{
		db:            db,
		resourceStore: resourceStore,
		metrics:       m,
		logger:        logger,
	}
}

func (s *service) CreateResource(ctx context.Context, req *core.CreateResourceRequest) (*core.TrackedResource, error) {
	identity, err := req.Identity.Identity()
	if err != nil {
		return nil, err
	}
	resource := &core.TrackedResource{
		ID:         utils.GenerateUUID(),
		Identity:   identity,
		Creation:   req.Creation,
		Expiration: req.Expiration,
		Metadata:   req.Metadata,
		Labels:     req.Labels,
	}
	err = s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		priors, err := s.resourceStore.FindInTx(ctx, tx, &core.ResourceFilter{
			Identity:        identity,
			ForbiddenStates: []core.ResourceState{core.ResourceDone, core.ResourceDuplicated},
			ForUpdate:       true,
		})
		if err != nil {
			return err
		}
		resource.State, err = s.resolveDuplicates(ctx, tx, resource, priors)
		if err != nil {
			return err
		}
		return s.resourceStore.CreateInTx(ctx, tx, resource)
	})
	if err != nil {
		s.logger.Errorf("failed to create resource %s, error: %v", resource.ID, err)
		return nil, err
	}
	s.metrics.ResourceCreated(resource.State)
	return resource, nil
}

// resolveDuplicates returns the state of the new resource. The resource with the latest
// expiration wins; earlier ones are marked duplicated.
func (s *service) resolveDuplicates(ctx context.Context,
	tx *sqlx.Tx,
	resource *core.TrackedResource,
	priors []*core.TrackedResource) (core.ResourceState, error) {
	if len(priors) == 0 {
		return core.ResourceReady, nil
	}
	s.checkSingle(resource.Identity, priors)
	latest := latestExpiration(priors)
	if !resource.Expiration.After(latest.Expiration) {
		s.logger.Infof("resource %s already tracked with a later expiration, marking new registration %s",
			latest.ID, core.ResourceDuplicated)
		return core.ResourceDuplicated, nil
	}
	for _, prior := range priors {
		if err := s.resourceStore.UpdateStateInTx(ctx, tx, prior.ID, core.ResourceDuplicated); err != nil {
			return "", err
		}
	}
	return core.ResourceReady, nil
}

func (s *service) AbandonResource(ctx context.Context, identity core.ResourceIdentity) error {
	return s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		resources, err := s.resourceStore.FindInTx(ctx, tx, &core.ResourceFilter{
			Identity:      identity,
			AllowedStates: []core.ResourceState{core.ResourceReady, core.ResourceCleaning, core.ResourceError},
			ForUpdate:     true,
		})
		if err != nil {
			return err
		}
		if len(resources) == 0 {
			return errs.ErrNotFound
		}
		s.checkSingle(identity, resources)
		for _, r := range resources {
			if err := s.resourceStore.UpdateStateInTx(ctx, tx, r.ID, core.ResourceAbandoned); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) BumpResource(ctx context.Context, identity core.ResourceIdentity) error {
	return s.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		resources, err := s.resourceStore.FindInTx(ctx, tx, &core.ResourceFilter{
			Identity:      identity,
			AllowedStates: []core.ResourceState{core.ResourceAbandoned, core.ResourceError},
			ForUpdate:     true,
		})
		if err != nil {
			return err
		}
		if len(resources) == 0 {
			return errs.ErrNotFound
		}
		s.checkSingle(identity, resources)
		return s.resourceStore.UpdateStateInTx(ctx, tx, latestExpiration(resources).ID, core.ResourceReady)
	})
}

func (s *service) UpdateResourceState(ctx context.Context, identity core.ResourceIdentity, state core.ResourceState) error {
	switch state {
	case core.ResourceAbandoned:
		return s.AbandonResource(ctx, identity)
	case core.ResourceReady:
		return s.BumpResource(ctx, identity)
	default:
		return errs.ErrInvalidTransition
	}
}

func (s *service) GetResource(ctx context.Context, id string) (*core.TrackedResource, error) {
	resource, err := s.resourceStore.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrRowsNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return resource, nil
}

func (s *service) GetResources(ctx context.Context, identity core.ResourceIdentity) ([]*core.TrackedResource, error) {
	return s.resourceStore.Find(ctx, &core.ResourceFilter{Identity: identity})
}

func (s *service) ListResources(ctx context.Context, filter *core.ResourceFilter) ([]*core.TrackedResource, error) {
	return s.resourceStore.Find(ctx, filter)
}

// checkSingle reports identities that have more than one non-terminal resource.
func (s *service) checkSingle(identity core.ResourceIdentity, resources []*core.TrackedResource) {
	if len(resources) <= 1 {
		return
	}
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	key, _ := core.IdentityKey(identity)
	s.logger.Errorf("%v: identity %s, resources %v", errs.ErrInvariantViolation, key, ids)
}

func latestExpiration(resources []*core.TrackedResource) *core.TrackedResource {
	latest := resources[0]
	for _, r := range resources[1:] {
		if r.Expiration.After(latest.Expiration) {
			latest = r
		}
	}
	return latest
}
