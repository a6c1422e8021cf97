package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// releaseScript deletes the lease key only while it still carries our token.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease shared by every daemon pointed at the same Redis instance.
type Redis struct {
	client rueidis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	return client, nil
}

// NewRedis wraps client. Keys are namespaced with prefix.
func NewRedis(client rueidis.Client, prefix string, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// TryAcquire sets the lease key with NX and a TTL. The returned release only deletes the
// key if it still holds this caller's token, so an expired lease taken over by another
// process is left alone.
func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := r.prefix + name
	token := uuid.NewString()
	cmd := r.client.B().Set().Key(key).Value(token).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	release := func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Exec(relCtx, r.client, []string{key}, []string{token}).Error(); err != nil {
			r.logger.Warn("release lease", "key", key, "err", err)
		}
	}
	return release, true, nil
}
