package gamestate

import "sync"

// Provider is the boundary to the game-client layer. CurrentSnapshot
// returns nil until the first world state has been observed.
type Provider interface {
	CurrentSnapshot() *Snapshot
	Subscribe(fn func(*Snapshot)) (unsubscribe func())
}

// ScriptedProvider replays a prepared sequence of snapshots. It stands in
// for the real client layer in tests and in the demo command.
type ScriptedProvider struct {
	mu      sync.RWMutex
	current *Snapshot
	subs    map[int]func(*Snapshot)
	nextID  int
}

// NewScriptedProvider creates a provider with no observed state.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{subs: make(map[int]func(*Snapshot))}
}

// CurrentSnapshot returns the most recently advanced snapshot, or nil.
func (p *ScriptedProvider) CurrentSnapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe registers an update callback and returns an unsubscribe func.
func (p *ScriptedProvider) Subscribe(fn func(*Snapshot)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Advance installs the next snapshot and notifies subscribers synchronously.
func (p *ScriptedProvider) Advance(s *Snapshot) {
	p.mu.Lock()
	p.current = s
	fns := make([]func(*Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
