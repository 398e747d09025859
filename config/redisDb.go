package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/seplag/regional_sync/utils"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening.
//
// Redis only backs the read cache and the cross-replica cycle lock, so unlike the database
// it gives up after maxAttempts and the service runs without it.
func ConnectRedisWithRetry(ctx context.Context, addr string, maxAttempts int) (*redis.Client, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 20,
		})
		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			rdb = client
			locker = redislock.New(client)
			logg.WithFields(logrus.Fields{"field": "redis", "attempt": attempt, "addr": addr}).Info("connected to redis")
			return client, nil
		}
		_ = client.Close()

		if attempt == maxAttempts {
			break
		}
		sleep := utils.Backoff(attempt)
		logg.WithFields(logrus.Fields{
			"field":    "redis",
			"attempt":  attempt,
			"addr":     addr,
			"retry_in": sleep.String(),
		}).Warn("failed to connect redis: " + lastErr.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", addr, maxAttempts, lastErr)
}
