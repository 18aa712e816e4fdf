// Package api serves janitor's HTTP interface.
package api

import (
	"context"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/api/health"
	"github.com/LambdaTest/janitor/pkg/api/middleware"
	"github.com/LambdaTest/janitor/pkg/api/resource"
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Router represents the routes for the http server.
type Router struct {
	cfg       *config.Config
	signalCtx context.Context
	lifecycle core.ResourceLifecycleService
	metrics   *metrics.Metrics
	logger    lumber.Logger
}

// New returns a New Router. The health route fails once signalCtx is done.
func New(
	signalCtx context.Context,
	cfg *config.Config,
	lifecycle core.ResourceLifecycleService,
	m *metrics.Metrics,
	logger lumber.Logger) Router {
	return Router{
		cfg:       cfg,
		signalCtx: signalCtx,
		lifecycle: lifecycle,
		metrics:   m,
		logger:    logger,
	}
}

// Handler function will perform all route operations
func (r *Router) Handler() *gin.Engine {
	r.logger.Infof("Setting up routes")
	router := gin.New()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := configureValidator(v); err != nil {
			r.logger.Fatalf("failed to configure validator %v", err)
		}
	}
	// skip probes and scrapes from logs
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/health", "/metrics"))
	router.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	router.Use(cors.New(corsConfig))
	router.Use(otelgin.Middleware(constants.ServiceName))
	if r.cfg.Env != constants.Prod {
		pprof.Register(router)
	}

	router.GET("/health", health.Handler(r.signalCtx))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{})))

	router.POST("/resource", resource.HandleCreate(r.lifecycle, r.logger))
	router.GET("/resource/:id", resource.HandleFind(r.lifecycle, r.logger))
	router.PUT("/resource/state", resource.HandleUpdateState(r.lifecycle, r.logger))

	router.GET("/resources", resource.HandleFindByIdentity(r.lifecycle, r.logger))
	router.GET("/resources/list", middleware.HandlePage(), resource.HandleList(r.lifecycle, r.logger))
	return router
}
