package raid

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Evac is one in-flight evacuation.
type Evac struct {
	// SessionID is the raid session being evacuated. Timers of the evac
	// check it so that a later session of the same player is never touched.
	SessionID uuid.UUID
	ChannelID string
	StartedAt time.Time
	Duration  time.Duration
}

// ExtractsAt returns when the evac completes.
func (e Evac) ExtractsAt() time.Time {
	return e.StartedAt.Add(e.Duration)
}

// EvacRegistry tracks which players are evacuating.
//
// Lifecycle: an entry is inserted by Begin when an evac is confirmed and
// removed by End on extraction, on a failed evac transaction, and when the
// player dies or the raid expires. At most one entry exists per player.
// All methods are safe for concurrent use.
type EvacRegistry struct {
	mu     sync.Mutex
	active map[string]Evac
}

// NewEvacRegistry returns an empty EvacRegistry.
func NewEvacRegistry() *EvacRegistry {
	return &EvacRegistry{active: make(map[string]Evac)}
}

// Begin registers e for playerID.
//
// Postcondition: returns false and leaves the registry unchanged when the
// player is already evacuating.
func (r *EvacRegistry) Begin(playerID string, e Evac) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[playerID]; ok {
		return false
	}
	r.active[playerID] = e
	return true
}

// End removes the entry of playerID and reports whether one existed.
func (r *EvacRegistry) End(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[playerID]
	delete(r.active, playerID)
	return ok
}

// EndSession removes the entry of playerID only if it belongs to sessionID.
func (r *EvacRegistry) EndSession(playerID string, sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[playerID]
	if !ok || e.SessionID != sessionID {
		return false
	}
	delete(r.active, playerID)
	return true
}

// Active returns the evac of playerID, if any.
func (r *EvacRegistry) Active(playerID string) (Evac, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[playerID]
	return e, ok
}

// Len returns the number of players evacuating.
func (r *EvacRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
