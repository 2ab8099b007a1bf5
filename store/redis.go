package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists records in Redis.
//
//	<prefix>inst:<id>   => JSON encoded Record
//	<prefix>idx:all     => SET of all instance ids
//
// SaveIfVersion runs under WATCH so concurrent writers of the same instance
// resolve to exactly one winner.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// NewRedisStore creates a RedisStore. A zero ttl keeps records forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pvm:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) keyInstance(id string) string { return s.prefix + "inst:" + id }
func (s *RedisStore) keyAll() string               { return s.prefix + "idx:all" }

// Load reads the record for instance id.
func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return s.load(ctx, s.client, id)
}

// SaveIfVersion performs an optimistic compare-and-set on the record key.
func (s *RedisStore) SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store not configured")
	}
	next, err := normalizeRecord(rec)
	if err != nil {
		return 0, err
	}
	key := s.keyInstance(next.InstanceID)

	var version int
	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, next.InstanceID)
		if err != nil {
			return err
		}
		version, err = applyVersion(next, current, expectedVersion)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			pipe.SAdd(ctx, s.keyAll(), next.InstanceID)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, versionConflict(next.InstanceID, expectedVersion, -1)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// List returns every indexed record ordered by instance id. Index entries
// whose payload expired are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	ids, err := s.client.SMembers(ctx, s.keyAll()).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	sort.Strings(ids)
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.load(ctx, s.client, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*Record, error) {
	data, err := c.Get(ctx, s.keyInstance(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return rec, nil
}
