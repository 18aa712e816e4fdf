package utils

import (
	"context"
	"strings"
	"sync"
	"time"

	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/google/uuid"
)

// GenerateUUID generates uuid v4
func GenerateUUID() string {
	uuidV4 := uuid.New() // panics on error
	return strings.Map(func(r rune) rune {
		if r == '-' {
			return -1
		}
		return r
	}, uuidV4.String())
}

// WaitWithTimeout waits for the wait group until the timeout or the context expires.
func WaitWithTimeout(ctx context.Context, wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errs.ErrTimeoutExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
