package config

import (
	"time"

	"github.com/LambdaTest/janitor/pkg/lumber"
)

type (
	// ConfigWrapper is a wrapper for the config
	ConfigWrapper struct {
		Config `json:"data" mapstructure:"data"`
	}

	// Config the application's configuration
	Config struct {
		DB              DBConfig
		Redis           Redis
		Kafka           KafkaConfig
		Azure           Azure
		Kubernetes      KubernetesConfig
		Tracing         TracingConfig
		Flight          FlightConfig
		Port            string
		LogFile         string
		LogConfig       lumber.LoggingConfig
		Env             string
		Verbose         bool
		GracefulTimeout time.Duration
		ShutDownDelay   time.Duration
	}

	// TracingConfig provides opentelemetry configurations
	TracingConfig struct {
		// OtelEndpoint for storing host name for otel collector
		OtelEndpoint string
	}

	// DBConfig providers the mysql db configuration.
	DBConfig struct {
		Host     string `json:"host"`
		Port     string `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}

	// Azure providers the storage configuration.
	Azure struct {
		// StorageAccountName azure storage account name
		StorageAccountName string
		// StorageAccessKey azure storage access key
		StorageAccessKey string
	}

	// KubernetesConfig locates the cluster whose namespaces and volume claims are cleaned up.
	KubernetesConfig struct {
		// KubeConfig path to a kubeconfig file, in-cluster config is used when empty
		KubeConfig string
	}

	// Redis represents the redis configuration.
	Redis struct {
		// Redis host:port address.
		Addr string
		// Redis username.
		Username string
		// Redis password.
		Password string
		// TLS enabled
		TLS bool
	}

	// KafkaConfig provides the kafka configuration.
	KafkaConfig struct {
		Brokers         string              `json:"brokers"`
		IngestionConfig KafkaConsumerConfig `json:"ingestion"`
	}

	// KafkaConsumerConfig provides the kafka configuration.
	KafkaConsumerConfig struct {
		Topic         string `json:"topic"`
		ConsumerGroup string `json:"consumer_group"`
	}

	// FlightConfig tunes the cleanup scheduler and the workflow runtime.
	FlightConfig struct {
		// SubmitInterval period of the claim and submit loop
		SubmitInterval time.Duration
		// ReconcileInterval period of the reconciliation loop
		ReconcileInterval time.Duration
		// RecoveryLimit max flights inspected by startup recovery
		RecoveryLimit int
		// ReconcileLimit max finishing flights inspected per reconciliation pass
		ReconcileLimit int
		// RetryInterval fixed delay between retries of a cleanup step
		RetryInterval time.Duration
		// MaxAttempts attempts of a cleanup step before it is treated as fatal
		MaxAttempts uint
		// Concurrency max flights executed at once by this process
		Concurrency int
		// VisibilityTimeout time after which an unacknowledged flight is redelivered
		VisibilityTimeout time.Duration
		// QuietDownTimeout time to wait for running flights on shutdown
		QuietDownTimeout time.Duration
		// TerminateTimeout time to wait for flights after they were cancelled
		TerminateTimeout time.Duration
	}
)
