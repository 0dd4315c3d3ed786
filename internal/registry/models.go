// Package registry tracks live consumer instances and the groups they serve,
// so targeted retries can be steered to a healthy one.
package registry

import (
	"time"
)

// Agent is one running consumer instance.
type Agent struct {
	ServiceID     string    `json:"service_id"`
	InstanceID    string    `json:"instance_id"`
	BaseURL       string    `json:"base_url,omitempty"`
	Topics        []string  `json:"topics"`
	Groups        []string  `json:"groups"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Healthy reports whether the agent heartbeated within staleAfter of now.
func (a Agent) Healthy(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(a.LastHeartbeat) <= staleAfter
}

// Serves reports whether the agent consumes topic as group.
func (a Agent) Serves(topic, group string) bool {
	return contains(a.Topics, topic) && contains(a.Groups, group)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
