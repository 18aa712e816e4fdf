// Package azure deletes azure blob containers.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/LambdaTest/janitor/pkg/azure"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"gopkg.in/guregu/null.v4/zero"
)

type containerExecutor struct {
	store  azure.ContainerStore
	logger lumber.Logger
}

// New returns an executor deleting containers through store.
func New(store azure.ContainerStore, logger lumber.Logger) core.CleanupExecutor {
	return &containerExecutor{store: store, logger: logger}
}

func (c *containerExecutor) CleanUp(ctx context.Context, identity core.ResourceIdentity, metadata zero.String) core.StepResult {
	id, ok := identity.(core.AzureContainer)
	if !ok {
		return core.StepFailed(fmt.Errorf("%w: kind %s", errs.ErrUnsupportedResource, identity.Kind()))
	}
	if id.StorageAccount != c.store.StorageAccount() {
		return core.StepFailed(fmt.Errorf("%w: %s", errs.ErrUnknownStorageAccount, id.StorageAccount))
	}
	err := c.store.DeleteContainer(ctx, id.Container)
	switch {
	case err == nil, errors.Is(err, errs.ErrNotFound):
		return core.StepSucceeded()
	case isTransient(err):
		c.logger.Warnf("failed to delete container %s/%s, will retry, error: %v", id.StorageAccount, id.Container, err)
		return core.StepRetry(fmt.Errorf("%w: %v", errs.ErrRetryableExternal, err))
	default:
		c.logger.Errorf("failed to delete container %s/%s, error: %v", id.StorageAccount, id.Container, err)
		return core.StepFailed(fmt.Errorf("%w: %v", errs.ErrPermanentExternal, err))
	}
}

// isTransient reports whether a storage error is worth retrying. Throttling,
// server side failures and network errors are retried.
func isTransient(err error) bool {
	var serr azblob.StorageError
	if errors.As(err, &serr) {
		if serr.Temporary() {
			return true
		}
		if resp := serr.Response(); resp != nil {
			return resp.StatusCode == 429 || resp.StatusCode >= 500
		}
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded)
}
