package signaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnicloud/p2psession/internal/codec"
)

type fakeConn struct{ sent []Frame }

func (f *fakeConn) Send(fr Frame) error {
	f.sent = append(f.sent, fr)
	return nil
}

func TestRegisterFirstMatchLinking(t *testing.T) {
	table := NewPairTable(8)
	aConn := &fakeConn{}
	bConn := &fakeConn{}

	entry, partner, _ := table.Register("alice", "bob", nil, aConn)
	require.Nil(t, partner)
	require.Equal(t, Unpaired, entry.Pointer)

	entry2, partner2, _ := table.Register("bob", "alice", nil, bConn)
	require.NotNil(t, partner2)
	require.Equal(t, Linked, entry2.Pointer)
	require.Equal(t, Linked, partner2.Pointer)
}

func TestSweepExpiredNotifiesPartner(t *testing.T) {
	table := NewPairTable(8)
	aConn := &fakeConn{}
	bConn := &fakeConn{}
	table.Register("alice", "bob", nil, aConn)
	table.Register("bob", "alice", nil, bConn)

	// force alice stale
	e, _ := table.Get("alice")
	e.LastSeen = time.Now().Add(-time.Hour)

	notify := table.SweepExpired(time.Minute)
	require.Len(t, notify, 1)
	require.Equal(t, "bob", notify[0].NotifyID)
	require.Equal(t, "alice", notify[0].DeadPeer)

	bob, ok := table.Get("bob")
	require.True(t, ok)
	require.Equal(t, Dangling, bob.Pointer)

	_, stillThere := table.Get("alice")
	require.False(t, stillThere)
}

func TestCandidateCacheBound(t *testing.T) {
	table := NewPairTable(2)
	entry, _, _ := table.Register("alice", "bob", makeCands(5), &fakeConn{})
	require.Len(t, entry.Candidates, 2)
}

func makeCands(n int) []codec.CandidateRecord {
	return make([]codec.CandidateRecord, n)
}
