// Package redis connects to the redis deployment backing the flight runtime.
package redis

import (
	"context"
	"crypto/tls"
	"runtime"
	"strings"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/go-redis/redis/v8"
)

const (
	minClusterNodes = 2
	idleTimeout     = 5 * time.Minute
	idleCheck       = 1 * time.Minute
	connsPerCPU     = 10
	maxRetries      = 3
)

type redisDB struct {
	client redis.UniversalClient
}

// New initializes a pool of redis client connections. A comma separated address
// list yields a cluster client.
func New(ctx context.Context, cfg *config.Config, logger lumber.Logger) (core.RedisDB, error) {
	addrs := strings.Split(cfg.Redis.Addr, ",")

	if len(addrs) >= minClusterNodes {
		logger.Debugf("Creating Redis Cluster Client")
	} else {
		logger.Debugf("Creating Redis Client")
	}

	options := &redis.UniversalOptions{
		Addrs:              addrs,
		IdleTimeout:        idleTimeout,
		IdleCheckFrequency: idleCheck,
		// flights hold a connection while blocked on the stream
		PoolSize:   connsPerCPU*runtime.GOMAXPROCS(0) + cfg.Flight.Concurrency,
		MaxRetries: maxRetries,
	}

	if cfg.Env != constants.Dev {
		options.Username = cfg.Redis.Username
		options.Password = cfg.Redis.Password
		if cfg.Redis.TLS {
			options.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	// if the number of Addrs is two or more, a ClusterClient is returned
	// otherwise a single-node Client is returned.
	client := redis.NewUniversalClient(options)

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}
	logger.Infof("Redis connection to %s created successfully.", cfg.Redis.Addr)

	return &redisDB{client: client}, nil
}

// Client exposes the redis client.
func (r *redisDB) Client() redis.UniversalClient {
	return r.client
}
