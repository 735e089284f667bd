// Package health tracks liveness of upstream endpoints and ranks them for
// the fetch client. Pure bookkeeping: no network calls originate here.
package health

import (
	"sort"
	"sync"
	"time"
)

// Role distinguishes primary endpoints from backups.
type Role string

const (
	RolePrimary Role = "primary"
	RoleBackup  Role = "backup"
)

// Endpoint identifies one network address of a source.
type Endpoint struct {
	SourceID string
	URL      string
	Role     Role
	// BackupIndex orders backup endpoints (0 = first backup). Zero for
	// primaries.
	BackupIndex int
}

// Status is a point-in-time snapshot of one endpoint's health state.
type Status struct {
	Endpoint            Endpoint   `json:"endpoint"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

type endpointState struct {
	mu sync.Mutex

	endpoint            Endpoint
	order               int // declaration order, tie-breaker
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
}

// Tracker keeps per-endpoint failure counters with fine-grained locking so
// concurrent requests touching different endpoints never serialize on each
// other. Endpoint state lives for the process lifetime and resets on restart.
type Tracker struct {
	failureThreshold int

	// bySource is written only at registration time; per-endpoint mutation
	// happens under each endpointState's own lock.
	mu       sync.RWMutex
	bySource map[string][]*endpointState

	nowFunc func() time.Time
}

// NewTracker creates a tracker. Endpoints at or beyond failureThreshold
// consecutive failures rank last (default 3). They are demoted, never
// removed: a single success resets the counter.
func NewTracker(failureThreshold int) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Tracker{
		failureThreshold: failureThreshold,
		bySource:         make(map[string][]*endpointState),
		nowFunc:          time.Now,
	}
}

// Register adds endpoints for a source in declaration order. Registering the
// same URL twice is a no-op.
func (t *Tracker) Register(endpoints ...Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ep := range endpoints {
		states := t.bySource[ep.SourceID]
		if t.find(states, ep.URL) != nil {
			continue
		}
		t.bySource[ep.SourceID] = append(states, &endpointState{
			endpoint: ep,
			order:    len(states),
		})
	}
}

func (t *Tracker) find(states []*endpointState, url string) *endpointState {
	for _, s := range states {
		if s.endpoint.URL == url {
			return s
		}
	}
	return nil
}

func (t *Tracker) state(ep Endpoint) *endpointState {
	t.mu.RLock()
	s := t.find(t.bySource[ep.SourceID], ep.URL)
	t.mu.RUnlock()
	return s
}

// RecordSuccess resets the endpoint's failure counter and stamps the success
// time.
func (t *Tracker) RecordSuccess(ep Endpoint) {
	s := t.state(ep)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.lastSuccessAt = t.nowFunc()
	s.mu.Unlock()
}

// RecordFailure increments the endpoint's consecutive-failure counter.
func (t *Tracker) RecordFailure(ep Endpoint) {
	s := t.state(ep)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.consecutiveFailures++
	s.lastFailureAt = t.nowFunc()
	s.mu.Unlock()
}

// rankKey is the sortable view of one endpoint's state.
type rankKey struct {
	endpoint      Endpoint
	bucket        int // 0 healthy, 1 failing, 2 at/over threshold
	failures      int
	lastSuccessAt time.Time
	order         int
}

// Rank returns the source's endpoints in fetch order: endpoints with zero
// consecutive failures first, most recent success first; then endpoints with
// some failures, fewest first; endpoints at or over the failure threshold
// last. Declaration order breaks ties, so an untouched tracker yields the
// configured primary-then-backup order.
func (t *Tracker) Rank(sourceID string) []Endpoint {
	t.mu.RLock()
	states := t.bySource[sourceID]
	t.mu.RUnlock()

	keys := make([]rankKey, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		k := rankKey{
			endpoint:      s.endpoint,
			failures:      s.consecutiveFailures,
			lastSuccessAt: s.lastSuccessAt,
			order:         s.order,
		}
		s.mu.Unlock()

		switch {
		case k.failures == 0:
			k.bucket = 0
		case k.failures < t.failureThreshold:
			k.bucket = 1
		default:
			k.bucket = 2
		}
		keys = append(keys, k)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.bucket != b.bucket {
			return a.bucket < b.bucket
		}
		if a.bucket == 0 && !a.lastSuccessAt.Equal(b.lastSuccessAt) {
			return a.lastSuccessAt.After(b.lastSuccessAt)
		}
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		return a.order < b.order
	})

	out := make([]Endpoint, len(keys))
	for i, k := range keys {
		out[i] = k.endpoint
	}
	return out
}

// Snapshot returns the current state of every registered endpoint, grouped
// by source, for the endpoints CLI command and the health API.
func (t *Tracker) Snapshot() map[string][]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]Status, len(t.bySource))
	for sourceID, states := range t.bySource {
		statuses := make([]Status, 0, len(states))
		for _, s := range states {
			s.mu.Lock()
			st := Status{
				Endpoint:            s.endpoint,
				ConsecutiveFailures: s.consecutiveFailures,
			}
			if !s.lastSuccessAt.IsZero() {
				ts := s.lastSuccessAt
				st.LastSuccessAt = &ts
			}
			if !s.lastFailureAt.IsZero() {
				ts := s.lastFailureAt
				st.LastFailureAt = &ts
			}
			s.mu.Unlock()
			statuses = append(statuses, st)
		}
		out[sourceID] = statuses
	}
	return out
}
