package entity

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scriptorium-dev/palimpsest/annotation"
)

// RedisOptions configures the Redis connection backing a RedisRegistry.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// TTL is the expiry applied to persisted entity documents; zero
	// means no expiry.
	TTL time.Duration

	// KeyPrefix namespaces the registry's keys. Defaults to
	// "palimpsest:entity:".
	KeyPrefix string
}

// RedisRegistry is a Registry with write-through persistence of entity
// documents to Redis. Instance identity and annotation sets stay
// in-process (an annotation set is a graph of live pointers, not a
// serializable document); the persisted copy lets a fresh process
// resolve the last known document for an identifier before expansion.
type RedisRegistry struct {
	local  *MemoryRegistry
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisRegistry creates a registry persisting to the Redis instance
// at opts.URL, verifying connectivity before returning.
func NewRedisRegistry(opts RedisOptions) (*RedisRegistry, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "palimpsest:entity:"
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRegistry{
		local:  NewMemoryRegistry(),
		client: client,
		ttl:    opts.TTL,
		prefix: opts.KeyPrefix,
	}, nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

// Get returns the registered entity, falling back to the persisted
// document when the identifier is unknown in-process.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*Entity, error) {
	if e, err := r.local.Get(ctx, id); err == nil {
		return e, nil
	}

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if err != nil {
		return nil, fmt.Errorf("entity: redis get %s: %w", id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("entity: persisted document for %s is malformed: %w", id, err)
	}

	e := New(id)
	e.SetAttributes(doc)
	return r.local.Set(ctx, e)
}

// Has reports whether the identifier is registered in-process or
// persisted.
func (r *RedisRegistry) Has(ctx context.Context, id string) (bool, error) {
	if ok, _ := r.local.Has(ctx, id); ok {
		return true, nil
	}
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("entity: redis exists %s: %w", id, err)
	}
	return n > 0, nil
}

// Set registers the entity in-process and writes its document through
// to Redis. The single-instance invariant is enforced by the local
// registry: a duplicate identifier returns the existing instance and
// leaves the persisted copy alone.
func (r *RedisRegistry) Set(ctx context.Context, e *Entity) (*Entity, error) {
	registered, err := r.local.Set(ctx, e)
	if err != nil {
		return nil, err
	}
	if registered != e {
		return registered, nil
	}
	if err := r.persist(ctx, registered); err != nil {
		return nil, err
	}
	return registered, nil
}

// Resolve returns the registered entity, loading the persisted
// document or creating a stub when the identifier is new.
func (r *RedisRegistry) Resolve(ctx context.Context, id string) (*Entity, error) {
	if e, err := r.Get(ctx, id); err == nil {
		return e, nil
	} else if !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}
	return r.local.Resolve(ctx, id)
}

// Attach adds an annotation to the target entity's in-process
// annotation set.
func (r *RedisRegistry) Attach(ctx context.Context, targetID string, a *annotation.Annotation) error {
	e, err := r.Resolve(ctx, targetID)
	if err != nil {
		return err
	}
	e.Attach(a)
	return nil
}

// Persist writes the entity's current document to Redis. The merge
// engine calls this after a completed expansion so the persisted copy
// reflects the merged state.
func (r *RedisRegistry) Persist(ctx context.Context, e *Entity) error {
	return r.persist(ctx, e)
}

func (r *RedisRegistry) persist(ctx context.Context, e *Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("entity: marshal %s: %w", e.ID, err)
	}
	if err := r.client.Set(ctx, r.key(e.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("entity: redis set %s: %w", e.ID, err)
	}
	return nil
}
