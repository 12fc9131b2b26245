package server

import "sync"

// Coordinator is the single shared slot holding the current coordinator.
// It stores a reference only: the membership registry owns the Member's
// lifetime, the slot just answers "who is coordinator right now". The slot
// is injected into the Server so election behavior is observable without a
// running server.
type Coordinator struct {
	mut    sync.RWMutex
	member *Member
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Set points the slot at the given member.
func (c *Coordinator) Set(member *Member) {
	c.mut.Lock()
	c.member = member
	c.mut.Unlock()
}

// Get returns the current coordinator, if any.
func (c *Coordinator) Get() (*Member, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if c.member == nil {
		return nil, false
	}

	return c.member, true
}

// ID returns the current coordinator's id, if any.
func (c *Coordinator) ID() (string, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if c.member == nil {
		return "", false
	}

	return c.member.ID(), true
}

// Reset clears the slot. Used when membership becomes empty.
func (c *Coordinator) Reset() {
	c.mut.Lock()
	c.member = nil
	c.mut.Unlock()
}
