// Package redis caches computed analytics reports. Reports are cheap to
// rebuild, so every failure mode here degrades to a miss rather than an
// error the caller has to think about.
package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// NewClient builds a client from a redis:// URL.
func NewClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=cache.NewClient: %w", err)
	}
	return goredis.NewClient(opts), nil
}

// ReportCache implements domain.ReportCache on a redis client.
type ReportCache struct{ rdb *goredis.Client }

func NewReportCache(rdb *goredis.Client) *ReportCache { return &ReportCache{rdb: rdb} }

var _ domain.ReportCache = (*ReportCache)(nil)

func (c *ReportCache) Get(ctx domain.Context, key string) (domain.AnalyticsReport, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		observability.AnalyticsCacheMissesTotal.Inc()
		return domain.AnalyticsReport{}, false, nil
	}
	if err != nil {
		return domain.AnalyticsReport{}, false, fmt.Errorf("op=cache.get: %w", err)
	}
	var rep domain.AnalyticsReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		// Undecodable entry, drop it and recompute.
		_ = c.rdb.Del(ctx, key).Err()
		observability.AnalyticsCacheMissesTotal.Inc()
		return domain.AnalyticsReport{}, false, nil
	}
	observability.AnalyticsCacheHitsTotal.Inc()
	return rep, true, nil
}

func (c *ReportCache) Set(ctx domain.Context, key string, report domain.AnalyticsReport, ttl time.Duration) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	return nil
}

// InvalidateTenant drops every cached window for the tenant. SCAN, not
// KEYS, so a large keyspace never blocks the server.
func (c *ReportCache) InvalidateTenant(ctx domain.Context, tenantID string) error {
	pattern := domain.ReportCachePrefix(tenantID) + "*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return fmt.Errorf("op=cache.invalidate: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("op=cache.invalidate: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping reports whether redis is reachable; the readiness probe calls it.
func (c *ReportCache) Ping(ctx domain.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=cache.ping: %w", err)
	}
	return nil
}
