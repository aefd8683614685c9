package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2p.conf")
	content := "peer_id=alice\nsignaling_mode=stateful\nserver_host=rendezvous.example.com\nserver_port=9999\ndisable_lan_shortcut=true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.PeerID)
	require.Equal(t, ModeStateful, cfg.SignalingMode)
	require.Equal(t, "rendezvous.example.com", cfg.ServerHost)
	require.Equal(t, 9999, cfg.ServerPort)
	require.True(t, cfg.DisableLANShortcut)
}

func TestLoadMissingPeerIDFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2p.conf")
	require.NoError(t, os.WriteFile(path, []byte("server_port=1234\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadInvalidSignalingModeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2p.conf")
	require.NoError(t, os.WriteFile(path, []byte("peer_id=bob\nsignaling_mode=bogus\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2p.conf")
	require.NoError(t, os.WriteFile(path, []byte("peer_id=from-file\n"), 0644))

	os.Setenv("P2P_PEER_ID", "from-env")
	defer os.Unsetenv("P2P_PEER_ID")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.PeerID)
}

func TestPeerIDTooLongFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2p.conf")
	long := make([]byte, 33)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, []byte("peer_id="+string(long)+"\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
