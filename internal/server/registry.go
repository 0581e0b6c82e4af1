package server

import (
	"sync"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// SlotID is the stable index of a registry slot.
type SlotID int

// NoSlot excludes nobody when passed to Authenticated.
const NoSlot SlotID = -1

type slot struct {
	conn          Conn
	username      string
	authenticated bool
}

func (s *slot) occupied() bool { return s.conn != nil }

// Target is one fan-out recipient captured by a registry snapshot.
type Target struct {
	Slot     SlotID
	Username string
	Conn     Conn
}

// Registry is the fixed-capacity table of connection slots. Every read and
// write happens under one mutex; scans are O(capacity).
type Registry struct {
	mu       sync.Mutex
	slots    []slot
	occupied int
}

// NewRegistry creates a registry with capacity slots. It never grows.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	return &Registry{slots: make([]slot, capacity)}
}

// Capacity returns the number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Acquire assigns conn to the first free slot. On ErrRegistryFull the caller
// must close conn itself.
func (r *Registry) Acquire(conn Conn) (SlotID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if !r.slots[i].occupied() {
			r.slots[i] = slot{conn: conn}
			r.occupied++
			metrics.ActiveSessions.Inc()
			return SlotID(i), nil
		}
	}
	return NoSlot, ErrRegistryFull
}

// Authenticate marks an occupied slot as logged in as username.
func (r *Registry) Authenticate(id SlotID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slot(id)
	if !ok || !s.occupied() {
		return ErrSlotNotOccupied
	}
	s.username = username
	s.authenticated = true
	return nil
}

// Deauthenticate clears the login of a slot without releasing it, so the
// session stops receiving fan-out. It returns the username the slot held and
// whether it was authenticated.
func (r *Registry) Deauthenticate(id SlotID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slot(id)
	if !ok || !s.authenticated {
		return "", false
	}
	name := s.username
	s.username = ""
	s.authenticated = false
	return name, true
}

// Release frees the slot and closes its connection. Releasing a free slot is
// a no-op; the return value reports whether anything was freed.
func (r *Registry) Release(id SlotID) bool {
	r.mu.Lock()
	s, ok := r.slot(id)
	if !ok || !s.occupied() {
		r.mu.Unlock()
		return false
	}
	conn := s.conn
	*s = slot{}
	r.occupied--
	r.mu.Unlock()

	metrics.ActiveSessions.Dec()
	_ = conn.Close()
	return true
}

// FindByUsername returns the first authenticated slot logged in as name.
func (r *Registry) FindByUsername(name string) (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		s := &r.slots[i]
		if s.occupied() && s.authenticated && s.username == name {
			return Target{Slot: SlotID(i), Username: s.username, Conn: s.conn}, true
		}
	}
	return Target{}, false
}

// Authenticated snapshots every authenticated slot except exclude, in slot
// order. Sends happen on the snapshot after the lock is released.
func (r *Registry) Authenticated(exclude SlotID) []Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make([]Target, 0, len(r.slots))
	for i := range r.slots {
		s := &r.slots[i]
		if SlotID(i) == exclude || !s.occupied() || !s.authenticated {
			continue
		}
		targets = append(targets, Target{Slot: SlotID(i), Username: s.username, Conn: s.conn})
	}
	return targets
}

// Usernames lists the authenticated users in slot order.
func (r *Registry) Usernames() []string {
	targets := r.Authenticated(NoSlot)
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Username
	}
	return names
}

// Occupied returns the number of occupied slots.
func (r *Registry) Occupied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupied
}

// CloseAll closes the connection of every occupied slot without freeing it,
// which unblocks the owning sessions so they release their slots themselves.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]Conn, 0, r.occupied)
	for i := range r.slots {
		if r.slots[i].occupied() {
			conns = append(conns, r.slots[i].conn)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// slot must be called with r.mu held.
func (r *Registry) slot(id SlotID) (*slot, bool) {
	if id < 0 || int(id) >= len(r.slots) {
		return nil, false
	}
	return &r.slots[id], true
}
