package service

import "sync"

// InFlight tracks commission ids with an operation between submission and
// its final confirmation result.
type InFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[string]struct{})}
}

// Acquire marks id busy. It returns false when id is already busy.
func (g *InFlight) Acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[id]; ok {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

func (g *InFlight) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, id)
}

func (g *InFlight) Busy(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[id]
	return ok
}

// Len returns the number of busy ids.
func (g *InFlight) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
