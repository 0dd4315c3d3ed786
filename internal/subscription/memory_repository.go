package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "herald/pkg/errors"
)

// MemoryRepository keeps registrations in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	topics map[string]string
	groups map[string]*Group
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		topics: make(map[string]string),
		groups: make(map[string]*Group),
	}
}

func groupKey(topic, group string) string {
	return topic + "\x00" + group
}

func (r *MemoryRepository) ActiveGroupsForTopic(ctx context.Context, topic string) ([]Group, error) {
	return r.filter(func(g *Group) bool { return g.IsActive && g.Topic == topic }), nil
}

func (r *MemoryRepository) ActiveGroups(ctx context.Context) ([]Group, error) {
	return r.filter(func(g *Group) bool { return g.IsActive }), nil
}

func (r *MemoryRepository) FindGroup(ctx context.Context, topic, groupName string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupKey(topic, groupName)]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage(fmt.Sprintf("consumer group %q is not registered on topic %q", groupName, topic))
	}
	cp := *g
	return &cp, nil
}

func (r *MemoryRepository) Register(ctx context.Context, reg Registration) (*Group, error) {
	if err := reg.Validate(); err != nil {
		return nil, pkgerrors.ErrValidation.WithMessage(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	topicID, ok := r.topics[reg.Topic]
	if !ok {
		topicID = uuid.NewString()
		r.topics[reg.Topic] = topicID
	}

	now := time.Now().UTC()
	key := groupKey(reg.Topic, reg.GroupName)
	g, ok := r.groups[key]
	if !ok {
		g = &Group{ID: uuid.NewString(), TopicID: topicID, Topic: reg.Topic, GroupName: reg.GroupName, CreatedAt: now}
		r.groups[key] = g
	}
	g.RequiresAcknowledgment = reg.RequiresAcknowledgment
	g.AcknowledgmentTimeoutMinutes = reg.AcknowledgmentTimeoutMinutes
	g.MaxRetries = reg.MaxRetries
	g.IsActive = !reg.Inactive
	g.UpdatedAt = now

	cp := *g
	return &cp, nil
}

func (r *MemoryRepository) filter(keep func(*Group) bool) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Group
	for _, g := range r.groups {
		if keep(g) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].GroupName < out[j].GroupName
	})
	return out
}
