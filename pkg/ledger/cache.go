package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/herbionyx/traceability/pkg/observability"
)

const cacheKeyPrefix = "herbionyx:query:"

// Cached wraps gw with a Redis read-through cache for successful query
// results. Invokes, errors and not-found answers are never cached, and a
// cache outage degrades to direct queries.
func Cached(gw Gateway, rdb redis.Cmdable, ttl time.Duration) Gateway {
	return &cachedGateway{
		next:   gw,
		rdb:    rdb,
		ttl:    ttl,
		logger: observability.Logger("ledger-cache"),
	}
}

type cachedGateway struct {
	next   Gateway
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func (c *cachedGateway) Invoke(ctx context.Context, function string, args []string) (*Receipt, error) {
	return c.next.Invoke(ctx, function, args)
}

func (c *cachedGateway) Query(ctx context.Context, function string, args []string) (*QueryResult, error) {
	key := CacheKey(function, args)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return &QueryResult{Function: function, Args: append([]string(nil), args...), Data: data}, nil
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "query cache read failed", "function", function, "error", err)
	}

	res, err := c.next.Query(ctx, function, args)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, []byte(res.Data), c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "query cache write failed", "function", function, "error", err)
	}
	return res, nil
}

// CacheKey is the Redis key holding the cached result of function(args).
func CacheKey(function string, args []string) string {
	sum := sha256.Sum256([]byte(function + "\x00" + strings.Join(args, "\x00")))
	return cacheKeyPrefix + function + ":" + hex.EncodeToString(sum[:16])
}
