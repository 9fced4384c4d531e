package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

// ErrInvalidState is returned when a callback carries an unknown, expired or
// already used state parameter.
var ErrInvalidState = domain.NewClientError(http.StatusBadRequest, "ERR_INVALID_STATE", "invalid or expired login state")

// State is what the authorization request remembers until the callback.
type State struct {
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
	// NonceHash is the hash of the nonce held by the starting browser.
	NonceHash string `json:"nonce_hash"`
	// LinkUserID is set when a signed-in user started the flow to link.
	LinkUserID uuid.UUID `json:"link_user_id"`
}

// StateStore keeps pending authorization requests. Consume is single use.
type StateStore interface {
	Save(ctx context.Context, key string, state State, ttl time.Duration) error
	Consume(ctx context.Context, key string) (State, error)
}

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemoryStateStore keeps states in process memory.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStateStore creates an in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStateStore) Save(_ context.Context, key string, state State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{state: state, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, key string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	delete(s.entries, key)
	if !ok || s.now().After(e.expires) {
		return State{}, ErrInvalidState
	}
	return e.state, nil
}

// RedisStateStore keeps states in Redis so any replica can finish the flow.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "idm:oauth_state:"}
}

func (s *RedisStateStore) Save(ctx context.Context, key string, state State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

func (s *RedisStateStore) Consume(ctx context.Context, key string) (State, error) {
	data, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrInvalidState
	}
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, ErrInvalidState
	}
	return state, nil
}
