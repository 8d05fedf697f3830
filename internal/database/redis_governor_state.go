package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

// GovernorStateKey is the Redis key the governor snapshot lives under.
// Format: engine:governor:{accountID}
const GovernorStateKey = "engine:governor"

// RedisGovernorStateStore persists the loss-governor snapshot in Redis,
// falling back to an in-memory copy when Redis is unavailable so the
// engine keeps running. Each Save writes the full snapshot; correctness
// of the daily/weekly reset depends on exact round-tripping of the date
// and week strings.
type RedisGovernorStateStore struct {
	client         *redis.Client
	accountID      string
	logger         zerolog.Logger
	redisAvailable atomic.Bool

	mu       sync.RWMutex
	fallback *risk.State
}

// NewRedisGovernorStateStore creates a store for the given account. A
// nil client puts the store in memory-only mode.
func NewRedisGovernorStateStore(client *redis.Client, accountID string, logger zerolog.Logger) *RedisGovernorStateStore {
	s := &RedisGovernorStateStore{
		client:    client,
		accountID: accountID,
		logger:    logger.With().Str("component", "GovernorStateStore").Logger(),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory state only")
		} else {
			s.redisAvailable.Store(true)
		}
	} else {
		s.logger.Info().Msg("No Redis client configured, governor state is in-memory only")
	}

	return s
}

func (s *RedisGovernorStateStore) key() string {
	return fmt.Sprintf("%s:%s", GovernorStateKey, s.accountID)
}

// Save writes the snapshot synchronously. The in-memory copy is always
// updated; a Redis failure is logged and degrades to memory-only rather
// than failing the trading path.
func (s *RedisGovernorStateStore) Save(ctx context.Context, state *risk.State) error {
	if state == nil {
		return fmt.Errorf("cannot save nil governor state")
	}

	copied := *state
	s.mu.Lock()
	s.fallback = &copied
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal governor state: %w", err)
	}

	if err := s.client.Set(ctx, s.key(), data, 0).Err(); err != nil {
		if s.redisAvailable.Swap(false) {
			s.logger.Warn().Err(err).Msg("Failed to save governor state to Redis, degrading to in-memory")
		}
		return nil
	}
	s.redisAvailable.Store(true)
	return nil
}

// Load reads the snapshot. Returns (nil, nil) when no state has ever
// been saved.
func (s *RedisGovernorStateStore) Load(ctx context.Context) (*risk.State, error) {
	if s.client != nil {
		data, err := s.client.Get(ctx, s.key()).Result()
		switch {
		case err == redis.Nil:
			return s.loadFallback(), nil
		case err != nil:
			s.redisAvailable.Store(false)
			s.logger.Warn().Err(err).Msg("Redis read failed, using in-memory state")
			return s.loadFallback(), nil
		}

		s.redisAvailable.Store(true)
		var state risk.State
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal governor state: %w", err)
		}

		copied := state
		s.mu.Lock()
		s.fallback = &copied
		s.mu.Unlock()
		return &state, nil
	}

	return s.loadFallback(), nil
}

// IsRedisAvailable reports whether the last Redis operation succeeded.
func (s *RedisGovernorStateStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

func (s *RedisGovernorStateStore) loadFallback() *risk.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fallback == nil {
		return nil
	}
	copied := *s.fallback
	return &copied
}
