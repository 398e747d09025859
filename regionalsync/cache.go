package regionalsync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seplag/regional_sync/models"
	"github.com/sirupsen/logrus"
)

const (
	activeCacheKey   = "Regionais:active"
	activeVersionKey = "Regionais:active:version"
)

// ActiveCache holds the ordered list of active regionals served by the read endpoint.
//
// Entries are keyed by a version. Invalidate bumps the version, so a reader that
// loaded the store before a cycle committed can only fill an entry nobody reads again.
type ActiveCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64) ([]models.Regional, bool, error)
	Set(ctx context.Context, version int64, regionals []models.Regional) error
	Invalidate(ctx context.Context) error
}

type RedisActiveCache struct {
	client     *redis.Client
	key        string
	versionKey string
	ttl        time.Duration
}

func NewRedisActiveCache(client *redis.Client, ttl time.Duration) *RedisActiveCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisActiveCache{client: client, key: activeCacheKey, versionKey: activeVersionKey, ttl: ttl}
}

func (c *RedisActiveCache) entryKey(version int64) string {
	return c.key + ":" + strconv.FormatInt(version, 10)
}

// Version is 0 until the first Invalidate.
func (c *RedisActiveCache) Version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisActiveCache) Get(ctx context.Context, version int64) ([]models.Regional, bool, error) {
	data, err := c.client.Get(ctx, c.entryKey(version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var regionals []models.Regional
	if err := json.Unmarshal(data, &regionals); err != nil {
		return nil, false, err
	}
	return regionals, true, nil
}

func (c *RedisActiveCache) Set(ctx context.Context, version int64, regionals []models.Regional) error {
	data, err := json.Marshal(regionals)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(version), data, c.ttl).Err()
}

// Invalidate moves readers to a new version. Old entries expire on their own.
func (c *RedisActiveCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.versionKey).Err()
}

// ActiveLister is the read side of the regional store.
type ActiveLister interface {
	ListActiveOrdered(ctx context.Context) ([]models.Regional, error)
	FindActiveByName(ctx context.Context, name string) (models.Regional, bool, error)
}

// Reader serves active regionals, cache-aside. Cache errors fall through to the store.
type Reader struct {
	store  ActiveLister
	cache  ActiveCache
	logger logrus.FieldLogger
}

func NewReader(store ActiveLister, cache ActiveCache, logger logrus.FieldLogger) *Reader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{store: store, cache: cache, logger: logger}
}

func (r *Reader) ListActive(ctx context.Context) ([]models.Regional, error) {
	if r.cache == nil {
		return r.store.ListActiveOrdered(ctx)
	}

	version, err := r.cache.Version(ctx)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"key": activeVersionKey}).Warn("regional cache version read failed: " + err.Error())
		return r.store.ListActiveOrdered(ctx)
	}
	cached, ok, err := r.cache.Get(ctx, version)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"key": activeCacheKey, "version": version}).Warn("regional cache read failed: " + err.Error())
	} else if ok {
		return cached, nil
	}

	regionals, err := r.store.ListActiveOrdered(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, version, regionals); err != nil {
		r.logger.WithFields(logrus.Fields{"key": activeCacheKey, "version": version}).Warn("regional cache write failed: " + err.Error())
	}
	return regionals, nil
}

func (r *Reader) FindActiveByName(ctx context.Context, name string) (models.Regional, bool, error) {
	return r.store.FindActiveByName(ctx, name)
}
