// Package server runs janitor's HTTP server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/api"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// ListenAndServe serves the router until ctx is cancelled or the listener fails.
func ListenAndServe(ctx context.Context, router *api.Router, cfg *config.Config, logger lumber.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infof("Caller has requested graceful shutdown. shutting down the server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server Shutdown: error %v", err)
		}
		return nil
	case err := <-errChan:
		logger.Errorf("listen: %v", err)
		return err
	}
}
