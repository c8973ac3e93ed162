package service

import (
	"slices"
	"sync"
)

// PresenceTracker mantiene los usernames en linea durante la vida del proceso.
// Cada nombre aparece a lo sumo una vez, en orden de llegada.
type PresenceTracker struct {
	mu    sync.Mutex
	users []string
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: []string{}}
}

// Add agrega name si no estaba y devuelve la lista actual.
func (p *PresenceTracker) Add(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.users, name) {
		p.users = append(p.users, name)
	}
	return slices.Clone(p.users)
}

// Remove quita la primera ocurrencia de name y devuelve la lista actual.
func (p *PresenceTracker) Remove(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.users, name); i >= 0 {
		p.users = slices.Delete(p.users, i, i+1)
	}
	return slices.Clone(p.users)
}

func (p *PresenceTracker) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.users)
}
