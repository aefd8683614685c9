package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	payload := []byte("candidate-bytes")
	sealed, err := Seal("shared-secret", payload)
	require.NoError(t, err)

	opened, err := Open("shared-secret", sealed)
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

func TestOpenWrongKeyFails(t *testing.T) {
	sealed, err := Seal("secret-a", []byte("data"))
	require.NoError(t, err)

	_, err = Open("secret-b", sealed)
	require.Error(t, err)
}
