package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

const (
	defaultKeyPrefix = "workflow:"
	stateKey         = "state:"
	entityKey        = "entity:"
	entityIndexKey   = "entities:"
)

// RedisStorage is a Redis-backed implementation of Store. State histories are
// lists of JSON records, entities JSON strings indexed per provider.
// Writes inside a transaction are queued in a MULTI/EXEC pipeline.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ids    generator.Generator
	mu     sync.Mutex
	pipe   redis.Pipeliner
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	// KeyPrefix namespaces every key, default "workflow:".
	KeyPrefix string
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, opts.KeyPrefix), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStorage{
		client: client,
		prefix: keyPrefix,
		ids:    generator.NewSnowflake(time.Now().Add(-time.Second), 1),
	}
}

func (s *RedisStorage) stateKey(id types.EntityID) string {
	return s.prefix + stateKey + id.String()
}

func (s *RedisStorage) entityKey(id types.EntityID) string {
	return s.prefix + entityKey + id.String()
}

func (s *RedisStorage) indexKey(provider string) string {
	return s.prefix + entityIndexKey + provider
}

// cmdable returns the transaction pipeline if one is active.
func (s *RedisStorage) cmdable() redis.Cmdable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe != nil {
		return s.pipe
	}
	return s.client
}

// Find implements workflow.StateRepository.
func (s *RedisStorage) Find(ctx context.Context, id types.EntityID) ([]workflow.State, error) {
	return withContext(ctx, func() ([]workflow.State, error) {
		key := s.stateKey(id)
		values, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from Redis: %w", key, err)
		}
		states := make([]workflow.State, 0, len(values))
		for _, value := range values {
			var rec workflow.StateRecord
			if err := json.Unmarshal([]byte(value), &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal state of %s: %w", id, err)
			}
			states = append(states, workflow.NewStateFromRecord(rec))
		}
		return states, nil
	})
}

// Add implements workflow.StateRepository.
func (s *RedisStorage) Add(ctx context.Context, state workflow.State) (workflow.State, error) {
	return withContext(ctx, func() (workflow.State, error) {
		id, err := s.ids.NextID()
		if err != nil {
			return workflow.State{}, err
		}
		stored := state.WithStateID(id)
		data, err := json.Marshal(stored.Record())
		if err != nil {
			return workflow.State{}, fmt.Errorf("failed to marshal state of %s: %w", state.EntityID(), err)
		}
		key := s.stateKey(state.EntityID())
		if err := s.cmdable().RPush(ctx, key, data).Err(); err != nil {
			return workflow.State{}, fmt.Errorf("failed to push %s in Redis: %w", key, err)
		}
		return stored, nil
	})
}

// Begin implements workflow.TransactionHandler.
func (s *RedisStorage) Begin(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pipe != nil {
			return ErrTransactionActive
		}
		s.pipe = s.client.TxPipeline()
		return nil
	})
}

// Commit implements workflow.TransactionHandler.
func (s *RedisStorage) Commit(ctx context.Context) error {
	s.mu.Lock()
	pipe := s.pipe
	s.pipe = nil
	s.mu.Unlock()
	if pipe == nil {
		return ErrNoTransaction
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute transaction pipeline: %w", err)
	}
	return nil
}

// Rollback implements workflow.TransactionHandler.
func (s *RedisStorage) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe == nil {
		return ErrNoTransaction
	}
	err := s.pipe.Discard()
	s.pipe = nil
	return err
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// RedisEntityRepository stores JSON encoded entities of type T for one provider.
type RedisEntityRepository[T any] struct {
	store    *RedisStorage
	provider string
}

// NewRedisEntityRepository creates an entity repository sharing the storage transaction.
func NewRedisEntityRepository[T any](store *RedisStorage, provider string) *RedisEntityRepository[T] {
	return &RedisEntityRepository[T]{store: store, provider: provider}
}

// Find implements workflow.EntityRepository.
func (r *RedisEntityRepository[T]) Find(ctx context.Context, id types.EntityID) (any, error) {
	return withContext(ctx, func() (any, error) {
		key := r.store.entityKey(id)
		data, err := r.store.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, notFound(id)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}
		return decodeEntity[T](data)
	})
}

// FindBySpecification implements workflow.EntityRepository.
func (r *RedisEntityRepository[T]) FindBySpecification(ctx context.Context, spec workflow.Specification) ([]any, error) {
	return withContext(ctx, func() ([]any, error) {
		members, err := r.store.client.SMembers(ctx, r.store.indexKey(r.provider)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read entity index of %q: %w", r.provider, err)
		}
		var out []any
		for _, member := range members {
			id, err := types.ParseEntityID(member)
			if err != nil {
				return nil, err
			}
			entity, err := r.Find(ctx, id)
			if errors.Is(err, ErrEntityNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			if spec.IsSatisfiedBy(id, entity) {
				out = append(out, entity)
			}
		}
		return out, nil
	})
}

// Add implements workflow.EntityRepository.
func (r *RedisEntityRepository[T]) Add(ctx context.Context, id types.EntityID, entity any) error {
	return withContextError(ctx, func() error {
		if err := checkProvider(r.provider, id); err != nil {
			return err
		}
		if err := checkEntity[T](entity); err != nil {
			return err
		}
		data, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("failed to marshal entity %s: %w", id, err)
		}
		cmd := r.store.cmdable()
		if err := cmd.Set(ctx, r.store.entityKey(id), data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set entity %s in Redis: %w", id, err)
		}
		if err := cmd.SAdd(ctx, r.store.indexKey(r.provider), id.String()).Err(); err != nil {
			return fmt.Errorf("failed to index entity %s in Redis: %w", id, err)
		}
		return nil
	})
}

// Remove implements workflow.EntityRepository.
func (r *RedisEntityRepository[T]) Remove(ctx context.Context, id types.EntityID) error {
	return withContextError(ctx, func() error {
		cmd := r.store.cmdable()
		if err := cmd.Del(ctx, r.store.entityKey(id)).Err(); err != nil {
			return fmt.Errorf("failed to delete entity %s from Redis: %w", id, err)
		}
		return cmd.SRem(ctx, r.store.indexKey(r.provider), id.String()).Err()
	})
}

func decodeEntity[T any](data []byte) (any, error) {
	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return entity, nil
}

var (
	_ Store                     = (*RedisStorage)(nil)
	_ workflow.EntityRepository = (*RedisEntityRepository[any])(nil)
)
