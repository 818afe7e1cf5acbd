package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

const cacheKeyPrefix = "events:v1:"

// CachedLookup is a read-through Redis cache in front of another Lookup.
// Only found events are cached. Redis failures fall through to the inner lookup.
type CachedLookup struct {
	Inner  Lookup
	Client *redis.Client
	TTL    time.Duration
	Log    *zap.Logger
}

func NewCachedLookup(inner Lookup, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedLookup {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedLookup{Inner: inner, Client: client, TTL: ttl, Log: log}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func (c *CachedLookup) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	key := cacheKeyPrefix + eventID

	val, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ev domain.Event
		if jerr := json.Unmarshal(val, &ev); jerr == nil {
			return ev, nil
		}
		c.Log.Warn("event cache entry unreadable", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.Log.Warn("event cache get failed", zap.String("key", key), zap.Error(err))
	}

	ev, err := c.Inner.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}

	b, err := json.Marshal(ev)
	if err == nil {
		err = c.Client.Set(ctx, key, b, c.TTL).Err()
	}
	if err != nil {
		c.Log.Warn("event cache set failed", zap.String("key", key), zap.Error(err))
	}
	return ev, nil
}

var (
	_ Lookup = (*StaticLookup)(nil)
	_ Lookup = (*PostgresLookup)(nil)
	_ Lookup = (*BackendClient)(nil)
	_ Lookup = (*CachedLookup)(nil)
)
