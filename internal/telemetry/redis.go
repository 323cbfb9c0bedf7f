package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-client/internal/models"
)

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// RedisSink keeps the driver's last position in a Redis GEO set plus a
// metadata hash, the layout the matching side reads.
type RedisSink struct {
	rc       RedisUpdater
	geoKey   string
	attempts int
	delay    time.Duration
}

func NewRedisSink(client *redis.Client, geoKey string) *RedisSink {
	return newRedisSink(&redisAdapter{c: client}, geoKey)
}

func newRedisSink(rc RedisUpdater, geoKey string) *RedisSink {
	return &RedisSink{rc: rc, geoKey: geoKey, attempts: 2, delay: 100 * time.Millisecond}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Publish(ctx context.Context, driverID string, status models.DriverStatus, loc models.Location) error {
	return updateRedisWithRetry(ctx, r.rc, r.geoKey, driverID, status, loc, r.attempts, r.delay)
}

func metaKey(id string) string { return "driver:meta:" + id }

// updateRedisWithRetry writes position then metadata, backing off between attempts.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey, driverID string, status models.DriverStatus, loc models.Location, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		// go-redis takes longitude and latitude as separate named fields
		if err = rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID}); err != nil {
			continue
		}
		if err = rc.HSet(ctx, metaKey(driverID), map[string]interface{}{
			"status":  string(status),
			"speed":   fmt.Sprintf("%.2f", loc.Speed),
			"heading": fmt.Sprintf("%.1f", loc.Heading),
			"updated": loc.At.UTC().Format(time.RFC3339),
		}); err != nil {
			continue
		}
		return nil
	}
	return err
}
