package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"herald/internal/constants"
)

type Store interface {
	Put(ctx context.Context, agent Agent, ttl time.Duration) error
	Remove(ctx context.Context, serviceID string) error
	List(ctx context.Context) ([]Agent, error)
}

// RedisStore keeps one expiring key per agent plus a set indexing them.
// Index members whose key has expired are pruned on List.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func agentKey(serviceID string) string {
	return constants.CacheKeyPrefixAgent + serviceID
}

func (s *RedisStore) Put(ctx context.Context, agent Agent, ttl time.Duration) error {
	body, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, agentKey(agent.ServiceID), body, ttl)
		pipe.SAdd(ctx, constants.AgentIndexKey, agent.ServiceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis agent put failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, serviceID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, agentKey(serviceID))
		pipe.SRem(ctx, constants.AgentIndexKey, serviceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis agent remove failed: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Agent, error) {
	ids, err := s.client.SMembers(ctx, constants.AgentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = agentKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	var (
		agents []Agent
		gone   []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			gone = append(gone, ids[i])
			continue
		}
		var a Agent
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			gone = append(gone, ids[i])
			continue
		}
		agents = append(agents, a)
	}

	if len(gone) > 0 {
		// Best effort; a failure only leaves stale index members behind.
		_ = s.client.SRem(ctx, constants.AgentIndexKey, gone...).Err()
	}
	return agents, nil
}

// MemoryStore is a Store for tests and single-process runs.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	agent     Agent
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Put(ctx context.Context, agent Agent, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ServiceID] = memoryEntry{agent: agent, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, serviceID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var agents []Agent
	for id, e := range s.agents {
		if now.After(e.expiresAt) {
			delete(s.agents, id)
			continue
		}
		agents = append(agents, e.agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ServiceID < agents[j].ServiceID })
	return agents, nil
}
