package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"

	"tournament-rewards/internal/config"
	"tournament-rewards/pkg/logger"
)

// Locker hands out non-blocking exclusive locks by key. ok is false when the
// key is already held; release is nil in that case.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// TournamentKey is the lock key guarding one tournament's settlement.
func TournamentKey(tournamentID uint64) string {
	return fmt.Sprintf("rewards:settle:tournament:%d", tournamentID)
}

// Local is an in-process lock table.
type Local struct {
	held *xsync.Map[string, struct{}]
}

func NewLocal() *Local {
	return &Local{held: xsync.NewMap[string, struct{}]()}
}

func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	if _, loaded := l.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, false, nil
	}
	return func() { l.held.Delete(key) }, true, nil
}

// Held reports whether key is currently locked in this process.
func (l *Local) Held(key string) bool {
	_, ok := l.held.Load(key)
	return ok
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every engine process pointed at the same server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.WithFields(map[string]interface{}{
		"addr": cfg.Addr,
		"db":   cfg.DB,
	}).Info("Connected to Redis")

	ttl := time.Duration(cfg.LockTTL) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Redis{client: rdb, ttl: ttl}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the caller's ctx may already be cancelled; the lock must still go
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			logger.WithFields(map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			}).Warn("Failed to release Redis lock, it will expire on its own")
		}
	}
	return release, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Chain acquires every locker in order and releases in reverse. A miss on
// any of them releases what was already taken.
type Chain []Locker

func (c Chain) TryLock(ctx context.Context, key string) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, ok, err := l.TryLock(ctx, key)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
