package sshconn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:22", WithDefaultPort("10.0.0.5"))
	assert.Equal(t, "10.0.0.5:2222", WithDefaultPort("10.0.0.5:2222"))
	assert.Equal(t, "lab-server:22", WithDefaultPort("lab-server"))
}

func writeKey(t *testing.T, dir string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestClientConfig(t *testing.T) {
	dir := t.TempDir()
	key := writeKey(t, dir)
	knownHosts := filepath.Join(dir, "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o644))

	cfg, err := ClientConfig(Options{User: "admin", KeyPath: key, KnownHostsPath: knownHosts})

	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.NotNil(t, cfg.HostKeyCallback)
}

func TestClientConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	key := writeKey(t, dir)
	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	_, err := ClientConfig(Options{KeyPath: filepath.Join(dir, "missing")})
	assert.ErrorContains(t, err, "read key")

	_, err = ClientConfig(Options{KeyPath: garbage})
	assert.ErrorContains(t, err, "parse key")

	_, err = ClientConfig(Options{KeyPath: key, KnownHostsPath: filepath.Join(dir, "no_known_hosts")})
	assert.ErrorContains(t, err, "load known hosts")
}
