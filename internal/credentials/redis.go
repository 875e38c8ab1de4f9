package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces Spot-TV state keys.
const DefaultRedisKeyPrefix = "spot-tv:state"

// maxUpdateAttempts bounds optimistic transaction retries in RedisStore.Update.
const maxUpdateAttempts = 5

// ErrUpdateContention is returned when a Redis update keeps losing its WATCH race.
var ErrUpdateContention = errors.New("credential state update contention")

// RedisStore persists state as a JSON value in Redis.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store for deviceID using client.
func NewRedisStore(client *redis.Client, prefix, deviceID string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		client: client,
		key:    RedisKey(prefix, deviceID),
	}
}

// RedisKey returns the key a device's state is stored under.
func RedisKey(prefix, deviceID string) string {
	return prefix + ":" + deviceID
}

// ConnectRedis parses url, connects and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Load reads the state. A missing key yields the zero State.
func (s *RedisStore) Load(ctx context.Context) (State, error) {
	return s.get(ctx, s.client)
}

// Update applies fn inside a WATCH/MULTI transaction, retrying when another
// writer touched the key in between.
func (s *RedisStore) Update(ctx context.Context, fn func(*State)) error {
	txf := func(tx *redis.Tx) error {
		state, err := s.get(ctx, tx)
		if err != nil {
			return err
		}

		fn(&state)
		state.Version = StateVersion
		state.SavedAt = time.Now()

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("update redis state: %w", err)
	}
	return ErrUpdateContention
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter) (State, error) {
	data, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get redis state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse redis state: %w", err)
	}
	return state, nil
}
