package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"mobilemoney/pkg/cache"
)

// InsightsCache is C12: answers to admin analytics queries are cached
// keyed to both the normalised query text and a platform-stats epoch, so
// a cached answer is invalidated the moment the epoch moves rather than
// by a fixed wall-clock TTL alone.
type InsightsCache struct {
	epochKey string
}

func NewInsightsCache() *InsightsCache {
	return &InsightsCache{epochKey: "insights:stats-epoch"}
}

// CurrentEpoch returns the platform-stats epoch, creating it at "0" on
// first use.
func (c *InsightsCache) CurrentEpoch(ctx context.Context) (string, error) {
	epoch, err := cache.Get(ctx, c.epochKey)
	if err != nil {
		return "", err
	}
	if epoch == "" {
		return "0", nil
	}
	return epoch, nil
}

// BumpEpoch advances the platform-stats epoch, invalidating every cached
// insight without having to enumerate or delete individual keys. The sync
// orchestrator calls this once a batch lands, since any answer involving
// balances or transaction counts is now stale.
func (c *InsightsCache) BumpEpoch(ctx context.Context) error {
	_, err := cache.Incr(ctx, c.epochKey)
	return err
}

// normalise lowercases and collapses whitespace so cosmetically distinct
// phrasings of the same question share a cache entry.
func normalise(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// classify assigns a query its cache lifetime. Queries about the current
// instant are never cached; queries about "today" or similarly fresh
// aggregates get a short lifetime; broader analytical queries get longer.
func classify(query string) (ttl time.Duration, cacheable bool) {
	q := normalise(query)
	switch {
	case strings.Contains(q, "right now"), strings.Contains(q, " now"), strings.HasSuffix(q, "now"):
		return 0, false
	case strings.Contains(q, "today"), strings.Contains(q, "current"), strings.Contains(q, "latest"):
		return 5 * time.Minute, true
	case strings.Contains(q, "revenue"), strings.Contains(q, "transaction"), strings.Contains(q, "user"), strings.Contains(q, "growth"):
		return 15 * time.Minute, true
	default:
		return 60 * time.Minute, true
	}
}

func cacheKey(query, epoch string) string {
	sum := sha256.Sum256([]byte(normalise(query) + "|" + epoch))
	return "insights:answer:" + hex.EncodeToString(sum[:])[:16]
}

// Get returns a cached answer for query, if one exists and the query
// class is cacheable at all.
func (c *InsightsCache) Get(ctx context.Context, query string) (string, bool, error) {
	if _, cacheable := classify(query); !cacheable {
		return "", false, nil
	}
	epoch, err := c.CurrentEpoch(ctx)
	if err != nil {
		return "", false, err
	}
	answer, err := cache.Get(ctx, cacheKey(query, epoch))
	if err != nil {
		return "", false, err
	}
	if answer == "" {
		return "", false, nil
	}
	return answer, true, nil
}

// Put stores an answer under the query's class-appropriate TTL. A no-op
// for query classes that are never cached.
func (c *InsightsCache) Put(ctx context.Context, query, answer string) error {
	ttl, cacheable := classify(query)
	if !cacheable {
		return nil
	}
	epoch, err := c.CurrentEpoch(ctx)
	if err != nil {
		return err
	}
	return cache.Set(ctx, cacheKey(query, epoch), answer, ttl)
}

// RateLimiter enforces per-admin perMinute and perHour limits (30 and 100
// by default in config). The windows are fixed buckets aligned to the UTC
// minute and hour, not sliding windows, so a burst that straddles a bucket
// boundary can reach up to twice a limit. A minute token is consumed
// first; if the hourly budget is then found to be exhausted, the minute
// token is refunded so the denial doesn't also cost the admin part of
// their minute budget.
type RateLimiter struct {
	perMinute int64
	perHour   int64
}

func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{perMinute: int64(perMinute), perHour: int64(perHour)}
}

// Allow reports whether adminID may make another insights request right now.
func (l *RateLimiter) Allow(ctx context.Context, adminID string) (bool, error) {
	now := time.Now().UTC()
	minuteKey := fmt.Sprintf("insights:rate:%s:m:%d", adminID, now.Unix()/60)
	hourKey := fmt.Sprintf("insights:rate:%s:h:%d", adminID, now.Unix()/3600)

	minuteCount, err := cache.Incr(ctx, minuteKey)
	if err != nil {
		return false, err
	}
	if minuteCount == 1 {
		if err := cache.Expire(ctx, minuteKey, 70*time.Second); err != nil {
			return false, err
		}
	}
	if minuteCount > l.perMinute {
		if _, err := cache.Decr(ctx, minuteKey); err != nil {
			return false, err
		}
		return false, nil
	}

	hourCount, err := cache.Incr(ctx, hourKey)
	if err != nil {
		return false, err
	}
	if hourCount == 1 {
		if err := cache.Expire(ctx, hourKey, 3700*time.Second); err != nil {
			return false, err
		}
	}
	if hourCount > l.perHour {
		if _, err := cache.Decr(ctx, minuteKey); err != nil {
			return false, err
		}
		if _, err := cache.Decr(ctx, hourKey); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}
