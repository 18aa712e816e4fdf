package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/api"
	"github.com/LambdaTest/janitor/pkg/azure"
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/db"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/executor"
	azureexecutor "github.com/LambdaTest/janitor/pkg/executor/azure"
	kafkaexecutor "github.com/LambdaTest/janitor/pkg/executor/kafka"
	"github.com/LambdaTest/janitor/pkg/executor/kube"
	"github.com/LambdaTest/janitor/pkg/flightmanager"
	"github.com/LambdaTest/janitor/pkg/flightrunner"
	"github.com/LambdaTest/janitor/pkg/flightscheduler"
	"github.com/LambdaTest/janitor/pkg/ingestqueue"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/opentelemetry"
	"github.com/LambdaTest/janitor/pkg/redis"
	"github.com/LambdaTest/janitor/pkg/server"
	"github.com/LambdaTest/janitor/pkg/service/lifecycle"
	"github.com/LambdaTest/janitor/pkg/store/cleanupflight"
	"github.com/LambdaTest/janitor/pkg/store/inmem"
	"github.com/LambdaTest/janitor/pkg/store/resourcelabel"
	"github.com/LambdaTest/janitor/pkg/store/trackedresource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// RootCommand will setup and return the root command
func RootCommand() *cobra.Command {
	rootCmd := cobra.Command{
		Use:     "janitor",
		Long:    `janitor tracks ephemeral cloud resources and deletes them once they expire.`,
		Version: constants.BinaryVersion,
		RunE:    run,
	}

	// define flags used for this command
	AttachCLIFlags(&rootCmd)

	return &rootCmd
}

// storage is the persistence layer janitor runs on.
type storage struct {
	db            core.DB
	resourceStore core.TrackedResourceStore
	flightStore   core.CleanupFlightStore
}

// runtime is the workflow runtime and, when flights are consumed from a queue, its worker.
type runtime struct {
	core.WorkflowRuntime
	worker core.FlightWorker
}

// nolint:funlen
func run(cmd *cobra.Command, args []string) error {
	// a WaitGroup for the goroutines to tell us they've stopped
	wg := sync.WaitGroup{}

	cfg, err := config.Load(cmd)
	if err != nil {
		fmt.Printf("Failed to load config: %v", err)
		return err
	}

	// patch logconfig file location with root level log file location
	if cfg.LogFile != "" {
		cfg.LogConfig.FileLocation = filepath.Join(cfg.LogFile, "janitor.log")
	}

	// You can also use logrus implementation
	// by using lumber.InstanceLogrusLogger
	logger, err := lumber.NewLogger(&cfg.LogConfig, cfg.Verbose, lumber.InstanceZapLogger)
	if err != nil {
		log.Printf("could not instantiate logger %s", err.Error())
		return err
	}

	// create a context that we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// initialize tracer
	if cfg.Tracing.OtelEndpoint != "" {
		tracerCleanup := opentelemetry.InitTracer(ctx, cfg, logger)
		defer func() {
			if tracerErr := tracerCleanup(context.Background()); tracerErr != nil {
				logger.Errorf("Failed to cleanup the tracer %v", tracerErr)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	stores, err := newStorage(cfg, logger)
	if err != nil {
		logger.Errorf("failed to create database connection %v", err)
		return err
	}
	defer stores.db.Close()

	executors, err := newExecutorRegistry(cfg, logger)
	if err != nil {
		logger.Errorf("could not instantiate cleanup executors %v", err)
		return err
	}
	logger.Infof("cleanup executors registered for kinds %v", executors.Kinds())

	builder := flightrunner.NewBuilder(stores.resourceStore, stores.flightStore, executors, logger)
	flightRuntime, err := newRuntime(ctx, cfg, builder, logger)
	if err != nil {
		logger.Errorf("could not instantiate workflow runtime %v", err)
		return err
	}

	lifecycleService := lifecycle.New(stores.db, stores.resourceStore, m, logger)
	flightManager := flightmanager.New(flightRuntime,
		stores.resourceStore,
		executors,
		m,
		cfg.Flight.RecoveryLimit,
		logger)
	scheduler := flightscheduler.New(stores.db,
		flightManager,
		flightRuntime,
		stores.resourceStore,
		stores.flightStore,
		m,
		&cfg.Flight,
		logger)

	// start consuming flights before recovery resubmits them
	if flightRuntime.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// passing parent context so that running flights are drained by the scheduler shutdown
			flightRuntime.worker.Run(ctx)
		}()
	}

	if err := scheduler.Initialize(ctx); err != nil {
		logger.Errorf("failed to initialize scheduler %v", err)
		cancel()
		wg.Wait()
		return err
	}

	// create child context so as to close kafka consumers and schedulers on SIGTERM/SIGINT
	// and fail health API.
	childCtx, childCancel := context.WithCancel(ctx)
	defer childCancel()

	router := api.New(childCtx, cfg, lifecycleService, m, logger)
	wg.Add(1)
	// setup http server
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(ctx, &router, cfg, logger); err != nil {
			logger.Errorf("error while running http server %v", err)
		}
	}()

	if cfg.Kafka.Brokers != "" && cfg.Kafka.IngestionConfig.Topic != "" {
		ingestionConsumer := ingestqueue.NewConsumer(cfg, lifecycleService, logger)
		defer ingestionConsumer.Close()
		wg.Add(1)
		// start ingestion consumer
		go func() {
			defer wg.Done()
			ingestionConsumer.Run(childCtx)
		}()
	} else {
		logger.Warnf("kafka ingestion is not configured, resources can only be registered over http")
	}

	wg.Add(1)
	// start scheduler
	go func() {
		defer wg.Done()
		scheduler.Run(childCtx)
	}()

	// listen for C-c
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	// create channel to mark status of waitgroup
	// this is required to brutally kill application in case of
	// timeout
	done := make(chan struct{})

	// asynchronously wait for all the go routines
	go func() {
		// and wait for all go routines
		wg.Wait()
		logger.Debugf("main: all goroutines have finished.")
		close(done)
	}()
	// wait for signal channel
	<-c
	logger.Debugf("main: received close signal - attempting graceful shutdown ....")
	childCancel()
	// add some delay so that the load balancer observes the failing health check
	time.Sleep(cfg.ShutDownDelay)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("scheduler shutdown failed %v", err)
	}
	// tell the goroutines to stop
	logger.Debugf("main: telling all goroutines to stop")
	cancel()
	select {
	case <-done:
		logger.Debugf("Go routines exited within timeout")
	case <-time.After(cfg.GracefulTimeout):
		logger.Errorf("Graceful timeout exceeded. Brutally killing the application")
		return errs.ErrTimeoutExceeded
	}
	return nil
}

func newStorage(cfg *config.Config, logger lumber.Logger) (*storage, error) {
	if cfg.Env == constants.Dev {
		logger.Warnf("running with the in-memory store, tracked resources are lost on exit")
		database := inmem.NewDB()
		return &storage{
			db:            database,
			resourceStore: inmem.NewTrackedResourceStore(database),
			flightStore:   inmem.NewCleanupFlightStore(database),
		}, nil
	}
	database, err := db.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	flightStore := cleanupflight.New(database, logger)
	return &storage{
		db:            database,
		resourceStore: trackedresource.New(database, resourcelabel.New(logger), flightStore, logger),
		flightStore:   flightStore,
	}, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, builder *flightrunner.Builder, logger lumber.Logger) (*runtime, error) {
	if cfg.Env == constants.Dev {
		return &runtime{WorkflowRuntime: flightrunner.NewInMemory(builder, cfg.Flight.Concurrency, logger)}, nil
	}
	redisDB, err := redis.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	r, err := flightrunner.NewRedis(redisDB, builder, &cfg.Flight, logger)
	if err != nil {
		return nil, err
	}
	return &runtime{WorkflowRuntime: r, worker: r}, nil
}

func newExecutorRegistry(cfg *config.Config, logger lumber.Logger) (*executor.Registry, error) {
	registry := executor.NewRegistry(core.RetryPolicy{
		Interval:    cfg.Flight.RetryInterval,
		MaxAttempts: cfg.Flight.MaxAttempts,
	}, logger)

	if cfg.Env == constants.Dev {
		dev := executor.NewLogging(logger)
		for _, kind := range []core.ResourceKind{
			core.KindKubernetesNamespace,
			core.KindPersistentVolumeClaim,
			core.KindAzureContainer,
			core.KindKafkaTopic,
		} {
			registry.Register(kind, "log", dev)
		}
		return registry, nil
	}

	kubeExecutor, err := kube.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry.Register(core.KindKubernetesNamespace, "delete", kubeExecutor)
	registry.Register(core.KindPersistentVolumeClaim, "delete", kubeExecutor)

	containerStore, err := azure.NewAzureBlobEnv(cfg, logger)
	switch {
	case err == nil:
		registry.Register(core.KindAzureContainer, "delete", azureexecutor.New(containerStore, logger))
	case errors.Is(err, errs.ErrAzureConfig):
		logger.Warnf("azure storage is not configured, %s resources will not be cleaned up", core.KindAzureContainer)
	default:
		return nil, err
	}

	if cfg.Kafka.Brokers != "" {
		registry.Register(core.KindKafkaTopic, "delete", kafkaexecutor.New(cfg, logger))
	} else {
		logger.Warnf("kafka is not configured, %s resources will not be cleaned up", core.KindKafkaTopic)
	}
	return registry, nil
}
