// Package cache shares flag definitions between processes through Redis.
// One process at a time holds a lock that allows it to call the remote
// service; the others read the snapshot it stores.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

const (
	// DefaultKeyPrefix namespaces the snapshot and lock keys.
	DefaultKeyPrefix = "heimdall:definitions"

	// DefaultLockTTL keeps the lock across at least one default poll interval.
	DefaultLockTTL = 60 * time.Second
)

// SetResult reports what the write script did with a snapshot.
type SetResult int

const (
	// SetResultSkipped means a newer snapshot was already stored.
	SetResultSkipped SetResult = 0
	// SetResultUpdated means the snapshot was written.
	SetResultUpdated SetResult = 1
	// SetResultRepaired means a corrupted entry was overwritten.
	SetResultRepaired SetResult = 2
)

// setSnapshotScript writes ARGV[2] ("version|json") unless the stored entry
// carries a greater version. Unparsable entries are overwritten.
var setSnapshotScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
local sep = string.find(current, "|", 1, true)
local stored = sep and tonumber(string.sub(current, 1, sep - 1))
if not stored then
	redis.call("SET", KEYS[1], ARGV[2])
	return 2
end
if stored > tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

// extendLockScript refreshes the lock TTL only for its owner.
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseLockScript deletes the lock only for its owner.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisProvider.
type RedisOptions struct {
	KeyPrefix string
	LockTTL   time.Duration
}

// RedisProvider implements the coordinator's CacheProvider on Redis.
type RedisProvider struct {
	logger      *slog.Logger
	client      redis.UniversalClient
	snapshotKey string
	lockKey     string
	lockTTL     time.Duration
	owner       string
	now         func() time.Time
}

// NewRedisProvider creates a provider. Each provider gets its own lock owner
// token, so two providers in one process compete like two processes.
func NewRedisProvider(logger *slog.Logger, client redis.UniversalClient, opts RedisOptions) *RedisProvider {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}

	return &RedisProvider{
		logger:      logger,
		client:      client,
		snapshotKey: opts.KeyPrefix + ":snapshot",
		lockKey:     opts.KeyPrefix + ":lock",
		lockTTL:     opts.LockTTL,
		owner:       uuid.NewString(),
		now:         time.Now,
	}
}

// GetFlagDefinitions returns the shared snapshot, or nil when none is stored.
func (p *RedisProvider) GetFlagDefinitions(ctx context.Context) (*flagdef.Snapshot, error) {
	raw, err := p.client.Get(ctx, p.snapshotKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	_, data, err := decodeSnapshot(raw)
	if err != nil {
		return nil, err
	}

	snapshot, err := flagdef.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return snapshot, nil
}

// ShouldFetchFlagDefinitions acquires the fetch lock, or extends it when this
// provider already owns it.
func (p *RedisProvider) ShouldFetchFlagDefinitions(ctx context.Context) (bool, error) {
	acquired, err := p.client.SetNX(ctx, p.lockKey, p.owner, p.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire fetch lock: %w", err)
	}
	if acquired {
		p.logger.Debug("fetch lock acquired", slog.String("key", p.lockKey))
		return true, nil
	}

	extended, err := extendLockScript.Run(ctx, p.client, []string{p.lockKey}, p.owner, p.lockTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend fetch lock: %w", err)
	}
	return extended == 1, nil
}

// OnFlagDefinitionsReceived stores the snapshot for the other processes.
func (p *RedisProvider) OnFlagDefinitionsReceived(ctx context.Context, snapshot *flagdef.Snapshot) error {
	_, err := p.store(ctx, snapshot, p.now().UnixMilli())
	return err
}

func (p *RedisProvider) store(ctx context.Context, snapshot *flagdef.Snapshot, version int64) (SetResult, error) {
	data, err := snapshot.Encode()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	res, err := setSnapshotScript.Run(ctx, p.client, []string{p.snapshotKey}, version, encodeSnapshot(data, version)).Int()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to store snapshot: %w", err)
	}

	result := SetResult(res)
	switch result {
	case SetResultRepaired:
		p.logger.Warn("corrupted snapshot entry overwritten", slog.String("key", p.snapshotKey))
	case SetResultSkipped:
		p.logger.Debug("newer snapshot already stored", slog.Int64("version", version))
	}
	return result, nil
}

// Shutdown releases the fetch lock if this provider holds it.
func (p *RedisProvider) Shutdown(ctx context.Context) error {
	released, err := releaseLockScript.Run(ctx, p.client, []string{p.lockKey}, p.owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release fetch lock: %w", err)
	}
	if released == 1 {
		p.logger.Info("fetch lock released", slog.String("key", p.lockKey))
	}
	return nil
}

// Ping reports whether the shared cache is reachable.
func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
