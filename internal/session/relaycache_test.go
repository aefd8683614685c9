package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayCacheRemembersWithinTTL(t *testing.T) {
	peer := "peer-relay-cache-remembers"
	require.False(t, recentRelayFallback(peer))

	rememberRelayFallback(peer)
	require.True(t, recentRelayFallback(peer))
}

func TestRelayCacheExpires(t *testing.T) {
	peer := "peer-relay-cache-expires"
	relayCache.mu.Lock()
	relayCache.until[peer] = time.Now().Add(-time.Second)
	relayCache.mu.Unlock()

	require.False(t, recentRelayFallback(peer))
}
