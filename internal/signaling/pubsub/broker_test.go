package pubsub

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBrokerAtMostOneAnswer(t *testing.T) {
	broker := NewBroker()
	srv := httptest.NewServer(broker)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	pub, err := Dial(url, "chan-1", "secret")
	require.NoError(t, err)
	defer pub.Close()

	sub, err := Dial(url, "chan-1", "secret")
	require.NoError(t, err)
	defer sub.Close()

	err = pub.PublishOffer(nil)
	require.NoError(t, err)

	offer, present, err := sub.PollOffer()
	require.NoError(t, err)
	require.True(t, present)
	require.Empty(t, offer)

	require.NoError(t, sub.WriteAnswer(nil))
	require.True(t, sub.answerWritten)

	// A second write must be a silent no-op (spec §8 property 6).
	require.NoError(t, sub.WriteAnswer(nil))

	answer, present, err := pub.PollAnswer()
	require.NoError(t, err)
	require.True(t, present)
	require.Empty(t, answer)
}
