package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRevokePrefix = "payerbook:revoked:"

// Revoker records refresh token ids that must no longer be honoured.
// Revoke reports true only for the call that first revoked the id, which
// makes rotation single-use even under concurrent refreshes.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
}

// RedisRevoker keeps revoked token ids in Redis until their natural expiry.
type RedisRevoker struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRevoker wraps a go-redis client. An empty prefix selects the default.
func NewRedisRevoker(rdb redis.UniversalClient, prefix string) *RedisRevoker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRevokePrefix
	}
	return &RedisRevoker{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(r.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.rdb.SetNX(ctx, r.prefix+tokenID, 1, ttl).Result()
}

// Revoked reports whether tokenID is currently in the revocation set.
func (r *RedisRevoker) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes.
func (r *RedisRevoker) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
