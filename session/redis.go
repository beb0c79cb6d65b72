package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"connectd/core"

	rdb "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "connectd:authsession:"

// RedisStore keeps auth sessions in Redis so callbacks can land on any replica.
type RedisStore struct {
	c      *rdb.Client
	prefix string
}

func NewRedisStore(addr string, db int, prefix string) *RedisStore {
	return NewRedisStoreFromClient(rdb.NewClient(&rdb.Options{Addr: addr, DB: db}), prefix)
}

func NewRedisStoreFromClient(c *rdb.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{c: c, prefix: prefix}
}

func (r *RedisStore) key(k core.SessionKey) string {
	return r.prefix + k.String()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisStore) Set(ctx context.Context, key core.SessionKey, s *core.AuthSession, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}
	return r.c.Set(ctx, r.key(key), b, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key core.SessionKey) (*core.AuthSession, error) {
	return decodeSession(r.c.Get(ctx, r.key(key)).Bytes())
}

// Take uses GETDEL, so two replicas handling the same callback cannot both
// read the session. Requires Redis 6.2 or newer.
func (r *RedisStore) Take(ctx context.Context, key core.SessionKey) (*core.AuthSession, error) {
	return decodeSession(r.c.GetDel(ctx, r.key(key)).Bytes())
}

func (r *RedisStore) Delete(ctx context.Context, key core.SessionKey) error {
	return r.c.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) Close() error {
	return r.c.Close()
}

func decodeSession(b []byte, err error) (*core.AuthSession, error) {
	if errors.Is(err, rdb.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var s core.AuthSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return &s, nil
}
