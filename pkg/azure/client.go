// Package azure talks to the azure blob storage account janitor holds a key for.
package azure

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/LambdaTest/janitor/config"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
)

// ContainerStore deletes blob containers of a single storage account.
type ContainerStore interface {
	// StorageAccount returns the account the store is authenticated against.
	StorageAccount() string
	// DeleteContainer deletes a container, errs.ErrNotFound is returned when it does not exist.
	DeleteContainer(ctx context.Context, container string) error
}

type store struct {
	storageAccount string
	service        azblob.ServiceURL
	logger         lumber.Logger
}

// NewAzureBlobEnv returns a ContainerStore for the configured storage account.
func NewAzureBlobEnv(cfg *config.Config, logger lumber.Logger) (ContainerStore, error) {
	if cfg.Azure.StorageAccountName == "" || cfg.Azure.StorageAccessKey == "" {
		return nil, errs.ErrAzureConfig
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.Azure.StorageAccountName, cfg.Azure.StorageAccessKey)
	if err != nil {
		logger.Errorf("Invalid azure credentials, error: %v", err)
		return nil, err
	}
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Azure.StorageAccountName))
	if err != nil {
		return nil, err
	}
	pipe := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	return &store{
		storageAccount: cfg.Azure.StorageAccountName,
		service:        azblob.NewServiceURL(*u, pipe),
		logger:         logger,
	}, nil
}

func (s *store) StorageAccount() string {
	return s.storageAccount
}

func (s *store) DeleteContainer(ctx context.Context, container string) error {
	containerURL := s.service.NewContainerURL(container)
	s.logger.Debugf("deleting container %s", containerURL.String())
	if _, err := containerURL.Delete(ctx, azblob.ContainerAccessConditions{}); err != nil {
		return errs.AzureError(err)
	}
	return nil
}
