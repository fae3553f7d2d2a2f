// Package registry tracks agent liveness and per-agent counters. State
// is in-memory only; a restart forgets everything.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mediaverse/hub/internal/bus"
)

// AgentInfo is the transient state kept per client_code.
type AgentInfo struct {
	ClientCode    string
	Platform      string
	LastSeen      time.Time
	IsOnline      bool
	CurrentJobID  *int64
	JobsCompleted int
	JobsFailed    int
}

// Registry is the process-wide agent table. A single lock serialises
// all operations.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentInfo

	bus *bus.Bus
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry publishing on b.
func New(b *bus.Bus, opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*AgentInfo),
		bus:    b,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch upserts the agent and refreshes last_seen. The first appearance
// of a client_code publishes client/connected.
func (r *Registry) Touch(clientCode, platform string) {
	r.mu.Lock()
	a, known := r.agents[clientCode]
	if !known {
		a = &AgentInfo{ClientCode: clientCode}
		r.agents[clientCode] = a
	}
	if platform != "" {
		a.Platform = platform
	}
	wasOnline := a.IsOnline
	a.IsOnline = true
	a.LastSeen = r.now()
	r.mu.Unlock()

	if r.bus != nil && (!known || !wasOnline) {
		_ = r.bus.Publish("client/connected", map[string]any{
			"client_code": clientCode,
			"platform":    platform,
		}, "registry")
	}
}

// MarkOffline flags the agent offline and publishes client/disconnected.
// Unknown codes are a no-op.
func (r *Registry) MarkOffline(clientCode string) {
	r.mu.Lock()
	a, ok := r.agents[clientCode]
	if !ok || !a.IsOnline {
		r.mu.Unlock()
		return
	}
	a.IsOnline = false
	r.mu.Unlock()

	if r.bus != nil {
		_ = r.bus.Publish("client/disconnected", map[string]any{
			"client_code": clientCode,
		}, "registry")
	}
}

// SetCurrentJob records the job an agent is working on.
func (r *Registry) SetCurrentJob(clientCode string, jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[clientCode]; ok {
		a.CurrentJobID = &jobID
	}
}

// RecordOutcome clears the agent's current job and bumps the matching
// counter.
func (r *Registry) RecordOutcome(clientCode string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[clientCode]
	if !ok {
		return
	}
	a.CurrentJobID = nil
	if success {
		a.JobsCompleted++
	} else {
		a.JobsFailed++
	}
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(clientCode string) (AgentInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[clientCode]
	if !ok {
		return AgentInfo{}, false
	}
	return snapshot(a), true
}

// Snapshot returns all agents ordered by client_code.
func (r *Registry) Snapshot() []AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, snapshot(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientCode < out[j].ClientCode })
	return out
}

// OnlineCount returns how many agents are currently online.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.agents {
		if a.IsOnline {
			n++
		}
	}
	return n
}

func snapshot(a *AgentInfo) AgentInfo {
	copy := *a
	if a.CurrentJobID != nil {
		id := *a.CurrentJobID
		copy.CurrentJobID = &id
	}
	return copy
}
