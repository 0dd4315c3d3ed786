package subscription

import (
	"fmt"
	"strings"
	"time"
)

// UnlimitedRetries is the MaxRetries sentinel for groups that never expire.
const UnlimitedRetries = -1

// Group is one consumer group registered on a topic. The topic is referenced
// by TopicID; Topic carries the joined name for convenience.
type Group struct {
	ID                           string    `json:"id"`
	TopicID                      string    `json:"topic_id"`
	Topic                        string    `json:"topic"`
	GroupName                    string    `json:"group_name"`
	RequiresAcknowledgment       bool      `json:"requires_acknowledgment"`
	AcknowledgmentTimeoutMinutes int       `json:"acknowledgment_timeout_minutes"`
	MaxRetries                   int       `json:"max_retries"`
	IsActive                     bool      `json:"is_active"`
	CreatedAt                    time.Time `json:"created_at"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

func (g Group) AckTimeout() time.Duration {
	return time.Duration(g.AcknowledgmentTimeoutMinutes) * time.Minute
}

// RetriesExhausted reports whether a row that has already been retried
// retryCount times may not be retried again.
func (g Group) RetriesExhausted(retryCount int) bool {
	return g.MaxRetries != UnlimitedRetries && retryCount >= g.MaxRetries
}

// Registration is the input for seeding a topic/group pair.
type Registration struct {
	Topic                        string
	GroupName                    string
	RequiresAcknowledgment       bool
	AcknowledgmentTimeoutMinutes int
	MaxRetries                   int
	Inactive                     bool
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(r.GroupName) == "" {
		return fmt.Errorf("group name is required")
	}
	if r.MaxRetries < UnlimitedRetries {
		return fmt.Errorf("max retries must be -1 (unlimited) or non-negative, got %d", r.MaxRetries)
	}
	if r.AcknowledgmentTimeoutMinutes < 1 {
		return fmt.Errorf("acknowledgment timeout must be at least one minute, got %d", r.AcknowledgmentTimeoutMinutes)
	}
	return nil
}
