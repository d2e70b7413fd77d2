package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface shared by the database pool and the
// broker client for readiness probing.
type Pinger interface{ Ping(ctx context.Context) error }

// Checker is the staging store's readiness surface.
type Checker interface{ Check(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal Redis surface needed for readiness.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// BuildReadinessChecks returns the db, broker, staging and redis probes.
// A nil dependency yields a nil probe, which the handler skips.
func BuildReadinessChecks(pool Pinger, broker Pinger, staging Checker, rdb RedisClient) (
	dbCheck func(ctx context.Context) error,
	brokerCheck func(ctx context.Context) error,
	stagingCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
) {
	if pool != nil {
		dbCheck = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	if broker != nil {
		brokerCheck = func(ctx context.Context) error { return broker.Ping(ctx) }
	}
	if staging != nil {
		stagingCheck = func(ctx context.Context) error { return staging.Check(ctx) }
	}
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			if res := rdb.Ping(ctx); res != nil {
				return res.Err()
			}
			return fmt.Errorf("redis ping returned nothing")
		}
	}
	return dbCheck, brokerCheck, stagingCheck, redisCheck
}
