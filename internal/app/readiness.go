package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPinger is the minimal interface of the Redis cache adapter's probe.
type RedisPinger interface{ Ping(ctx context.Context) error }

// BusLiveness is the minimal interface of the bus connection's probe.
type BusLiveness interface{ IsAlive() bool }

// BuildReadinessChecks returns the three readiness checks: db, redis and bus.
func BuildReadinessChecks(pool Pinger, rdb RedisPinger, bus BusLiveness) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx)
	}
	busCheck := func(_ context.Context) error {
		if bus == nil {
			return fmt.Errorf("bus not configured")
		}
		if !bus.IsAlive() {
			return fmt.Errorf("bus connection down")
		}
		return nil
	}
	return dbCheck, redisCheck, busCheck
}
