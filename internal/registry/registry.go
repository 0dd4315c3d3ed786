package registry

import (
	"context"
	"sync"
	"time"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/metrics"
)

// Registry answers which consumer instances are alive and what they serve.
type Registry struct {
	store      Store
	staleAfter time.Duration
	logger     logger.Logger
	now        func() time.Time
}

func New(store Store, staleAfter time.Duration, log logger.Logger) *Registry {
	if staleAfter <= 0 {
		staleAfter = constants.DefaultAgentStaleAfter
	}
	return &Registry{
		store:      store,
		staleAfter: staleAfter,
		logger:     log.With("component", "registry"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HealthyAgents lists agents whose last heartbeat is recent enough.
func (r *Registry) HealthyAgents(ctx context.Context) ([]Agent, error) {
	agents, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	healthy := agents[:0]
	for _, a := range agents {
		if a.Healthy(now, r.staleAfter) {
			healthy = append(healthy, a)
		}
	}
	return healthy, nil
}

// FindHealthyAgentForGroup returns the most recently heartbeating agent that
// serves topic as group, or nil when there is none.
func (r *Registry) FindHealthyAgentForGroup(ctx context.Context, topic, group string) (*Agent, error) {
	agents, err := r.HealthyAgents(ctx)
	if err != nil {
		return nil, err
	}

	var best *Agent
	for i := range agents {
		a := agents[i]
		if !a.Serves(topic, group) {
			continue
		}
		if best == nil || a.LastHeartbeat.After(best.LastHeartbeat) {
			best = &a
		}
	}
	return best, nil
}

// Heartbeater keeps one agent's entry fresh. Beat is driven by a
// worker.Periodic.
type Heartbeater struct {
	store    Store
	mu       sync.Mutex
	agent    Agent
	interval time.Duration
	ttl      time.Duration
	logger   logger.Logger
	now      func() time.Time
}

func NewHeartbeater(store Store, agent Agent, interval, staleAfter time.Duration, log logger.Logger) *Heartbeater {
	if interval <= 0 {
		interval = constants.DefaultHeartbeatInterval
	}
	if staleAfter <= 0 {
		staleAfter = constants.DefaultAgentStaleAfter
	}
	if agent.StartedAt.IsZero() {
		agent.StartedAt = time.Now().UTC()
	}
	return &Heartbeater{
		store:    store,
		agent:    agent,
		interval: interval,
		ttl:      staleAfter,
		logger:   log.With("component", "heartbeat", "service_id", agent.ServiceID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Heartbeater) Interval() time.Duration {
	return h.interval
}

// Agent returns the identity as of the last beat.
func (h *Heartbeater) Agent() Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent
}

func (h *Heartbeater) Beat(ctx context.Context) error {
	h.mu.Lock()
	h.agent.LastHeartbeat = h.now()
	agent := h.agent
	h.mu.Unlock()

	if err := h.store.Put(ctx, agent, h.ttl); err != nil {
		metrics.IncHeartbeat("error")
		return err
	}
	metrics.IncHeartbeat("ok")
	return nil
}

// Deregister removes the agent so retries stop targeting it immediately.
func (h *Heartbeater) Deregister(ctx context.Context) error {
	if err := h.store.Remove(ctx, h.Agent().ServiceID); err != nil {
		return err
	}
	h.logger.Infow("Agent deregistered")
	return nil
}
