package session

import (
	"sync"
	"time"
)

// relayCacheTTL bounds how long a peer id's "fell back to relay last time"
// is remembered before connect() attempts a fresh punch schedule again
// (SPEC_FULL.md §12 connection-quality-aware relay caching, grounded in the
// teacher's RelayDialer caching/backoff pattern in internal/relay/dialer.go).
const relayCacheTTL = 2 * time.Minute

// relayCache is process-wide rather than per-Session: the point of the
// optimization is that a *new* Session connecting to the same peer id
// shortly after a prior one fell back to relay skips straight to RELAY,
// which only works if the memory outlives the Session that observed it.
var relayCache = struct {
	mu    sync.Mutex
	until map[string]time.Time
}{until: make(map[string]time.Time)}

func rememberRelayFallback(peerID string) {
	relayCache.mu.Lock()
	relayCache.until[peerID] = time.Now().Add(relayCacheTTL)
	relayCache.mu.Unlock()
}

func recentRelayFallback(peerID string) bool {
	relayCache.mu.Lock()
	defer relayCache.mu.Unlock()
	exp, ok := relayCache.until[peerID]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(relayCache.until, peerID)
		return false
	}
	return true
}
