package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/logger"
)

const defaultKeyPrefix = "sipcore:bindings:"

// RedisStore keeps bindings in one hash per address-of-record, field =
// contact, value = JSON binding. The hash expires with its longest binding.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(aor string) string {
	return s.prefix + aor
}

func (s *RedisStore) Bindings(ctx context.Context, aor string) ([]Binding, error) {
	fields, err := s.client.HGetAll(ctx, s.key(aor)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load bindings of %s", aor)
	}

	now := s.now()
	var (
		live    []Binding
		expired []string
	)
	for contact, raw := range fields {
		var b Binding
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			logger.Warnf("[redis_store] -> drop undecodable binding %s of %s: %s", contact, aor, err)
			expired = append(expired, contact)
			continue
		}
		if b.Expired(now) {
			expired = append(expired, contact)
			continue
		}
		live = append(live, b)
	}
	if len(expired) > 0 {
		if err := s.client.HDel(ctx, s.key(aor), expired...).Err(); err != nil {
			logger.Warnf("[redis_store] -> purge expired bindings of %s: %s", aor, err)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}
	return sortBindings(live), nil
}

func (s *RedisStore) Put(ctx context.Context, aor string, b Binding) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return errors.WithStack(err)
	}

	key := s.key(aor)
	ttl := b.Expires.Sub(s.now())
	// only ever extend the hash lifetime
	extend := ttl > 0 && s.client.TTL(ctx, key).Val() < ttl
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, b.Contact, raw)
		if extend {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return errors.Wrapf(err, "store binding %s of %s", b.Contact, aor)
}

func (s *RedisStore) Remove(ctx context.Context, aor, contact string) error {
	return errors.Wrapf(s.client.HDel(ctx, s.key(aor), contact).Err(), "remove binding %s of %s", contact, aor)
}

func (s *RedisStore) RemoveAll(ctx context.Context, aor string) error {
	return errors.Wrapf(s.client.Del(ctx, s.key(aor)).Err(), "remove bindings of %s", aor)
}
