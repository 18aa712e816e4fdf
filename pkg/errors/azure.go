package errors

import "github.com/Azure/azure-storage-blob-go/azblob"

// AzureError maps azure storage errors to errors in this package where possible.
func AzureError(err error) error {
	if err == nil {
		return nil
	}
	if serr, ok := err.(azblob.StorageError); ok {
		switch serr.ServiceCode() {
		case azblob.ServiceCodeContainerNotFound, azblob.ServiceCodeContainerBeingDeleted:
			return ErrNotFound
		}
	}
	return err
}
