package pricing

import "sync"

// Guard is a single-flight guard: at most one in-flight operation per
// logical key. Callers check CanSync before StartSync and must arrange for
// EndSync to run once the operation settles, success or failure (defer).
//
// This prevents the classic double-fetch when an app-resume trigger and a
// periodic trigger fire for the same key at the same time. It deliberately
// does not protect against the key itself changing mid-flight; that race is
// handled by generation counters at the call sites.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

// CanSync reports whether no operation is currently in flight for the key.
func (g *Guard) CanSync(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[key]
	return !busy
}

// StartSync marks the key as in flight.
func (g *Guard) StartSync(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight[key] = struct{}{}
}

// EndSync clears the key. Safe to call for a key that was never started.
func (g *Guard) EndSync(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// TryStart atomically checks CanSync and, if allowed, starts the sync.
// It returns false when an operation for the key is already in flight.
func (g *Guard) TryStart(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}
