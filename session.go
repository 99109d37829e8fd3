package federation

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long a login attempt may stay in flight.
const DefaultSessionTTL = 10 * time.Minute

const (
	sessionKeyState        = "state"
	sessionKeyCodeVerifier = "code_verifier"
)

// SessionStore holds login secrets scoped to one browser session. Get and
// Pop return "" when the key is missing or expired.
type SessionStore interface {
	Set(ctx context.Context, sessionID, key, value string) error
	Get(ctx context.Context, sessionID, key string) (string, error)
	// Pop reads and deletes the key in one step.
	Pop(ctx context.Context, sessionID, key string) (string, error)
}

func providerKey(provider Provider, key string) string {
	return provider.String() + ":" + key
}

func sessionCacheKey(sessionID, key string) string {
	return sessionID + "|" + key
}

// MemorySessionStore is a process local SessionStore backed by go-cache.
type MemorySessionStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemorySessionStore creates a store whose entries expire after ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

func (s *MemorySessionStore) Set(_ context.Context, sessionID, key, value string) error {
	s.cache.Set(sessionCacheKey(sessionID, key), value, s.ttl)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, error) {
	v, ok := s.cache.Get(sessionCacheKey(sessionID, key))
	if !ok {
		return "", nil
	}
	str, _ := v.(string)
	return str, nil
}

func (s *MemorySessionStore) Pop(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionCacheKey(sessionID, key)
	v, ok := s.cache.Get(k)
	if !ok {
		return "", nil
	}
	s.cache.Delete(k)
	str, _ := v.(string)
	return str, nil
}

// RedisSessionStore shares login secrets across instances.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore wraps client. Keys are namespaced with prefix.
func NewRedisSessionStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if prefix == "" {
		prefix = "federation:login"
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) key(sessionID, key string) string {
	return s.prefix + ":" + sessionID + ":" + key
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	return s.client.Set(ctx, s.key(sessionID, key), value, s.ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Pop uses GETDEL so two callbacks racing on the same session cannot both
// read the secret.
func (s *RedisSessionStore) Pop(ctx context.Context, sessionID, key string) (string, error) {
	val, err := s.client.GetDel(ctx, s.key(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
