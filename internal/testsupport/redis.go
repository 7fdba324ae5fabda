package testsupport

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/heimdall-local/internal/cache"
	"github.com/rafaeljc/heimdall-local/internal/config"
)

// RedisContainer holds references to the ephemeral Redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	// Client is created through the application client factory.
	Client *goredis.Client
	// Endpoint is the host:port of the container, for side-channel clients.
	Endpoint string
}

// Terminate cleans up the container and closes the client.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer spins up a Redis 7-alpine container.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := redisContainer.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid redis endpoint %q: %w", endpoint, err)
	}

	testCfg := &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       10,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	}
	client, err := cache.NewRedisClient(ctx, testCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: redisContainer,
		Client:    client,
		Endpoint:  endpoint,
	}, nil
}
