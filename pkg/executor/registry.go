// Package executor maps resource kinds to the cleanup steps that delete them.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
)

// Registry is a core.CleanupExecutorRegistry keyed by resource kind.
type Registry struct {
	mu     sync.RWMutex
	steps  map[core.ResourceKind][]*core.StepDescriptor
	policy core.RetryPolicy
	logger lumber.Logger
}

// NewRegistry returns an empty registry. Registered steps retry with policy.
func NewRegistry(policy core.RetryPolicy, logger lumber.Logger) *Registry {
	return &Registry{
		steps:  make(map[core.ResourceKind][]*core.StepDescriptor),
		policy: policy,
		logger: logger,
	}
}

// Register appends a cleanup step for kind. Steps of a kind run in registration order.
func (r *Registry) Register(kind core.ResourceKind, name string, executor core.CleanupExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy := r.policy
	r.steps[kind] = append(r.steps[kind], &core.StepDescriptor{
		Name:  fmt.Sprintf("%s/%s", kind, name),
		Retry: &policy,
		Run: func(ctx context.Context, fc *core.FlightContext) core.StepResult {
			return executor.CleanUp(ctx, fc.Inputs.Identity, fc.Inputs.Metadata)
		},
	})
	r.logger.Debugf("registered cleanup step %s for kind %s", name, kind)
}

// Resolve implements core.CleanupExecutorRegistry.
func (r *Registry) Resolve(identity core.ResourceIdentity) (string, []*core.StepDescriptor, error) {
	ref := string(identity.Kind())
	steps, err := r.Steps(ref)
	if err != nil {
		return "", nil, err
	}
	return ref, steps, nil
}

// Steps implements core.CleanupExecutorRegistry.
func (r *Registry) Steps(executorRef string) ([]*core.StepDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps, ok := r.steps[core.ResourceKind(executorRef)]
	if !ok {
		return nil, errs.ErrUnsupportedResource
	}
	out := make([]*core.StepDescriptor, len(steps))
	copy(out, steps)
	return out, nil
}

// Kinds returns the kinds with at least one registered step.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.steps))
	for kind := range r.steps {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return kinds
}
