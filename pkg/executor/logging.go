package executor

import (
	"context"

	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"gopkg.in/guregu/null.v4/zero"
)

type loggingExecutor struct {
	logger lumber.Logger
}

// NewLogging returns an executor that only logs the identity it was asked to delete.
// It backs every kind in the dev environment.
func NewLogging(logger lumber.Logger) core.CleanupExecutor {
	return &loggingExecutor{logger: logger}
}

func (l *loggingExecutor) CleanUp(ctx context.Context, identity core.ResourceIdentity, metadata zero.String) core.StepResult {
	key, err := core.IdentityKey(identity)
	if err != nil {
		return core.StepFailed(err)
	}
	l.logger.Infof("dev cleanup of %s, metadata %q", key, metadata.String)
	return core.StepSucceeded()
}
