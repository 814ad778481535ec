package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, `
node:
  token: node-secret
users:
  alice:
    token: tok-a
  root:
    token: tok-r
    bypass_moderation: true
models: [m1, m2]
timeouts:
  admission: 5s
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-secret", c.Node.Token)
	assert.Equal(t, ":8087", c.API.ListenAddr)
	assert.Equal(t, 5*time.Second, c.Timeouts.Admission)
	assert.Equal(t, 600*time.Second, c.Timeouts.Completion)
	assert.True(t, c.Node.CancelOnDisconnect)
	assert.Equal(t, 50, c.Moderation.ChunkSize)
	assert.Equal(t, 10, c.Moderation.Overlap)
	assert.Equal(t, []string{"m1", "m2"}, c.Models)
	assert.True(t, c.Users["root"].BypassModeration)
	assert.False(t, c.Users["alice"].BypassModeration)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, `
node:
  token: from-file
users:
  alice:
    token: tok-a
`)
	t.Setenv("LLMROUTER_NODE_TOKEN", "from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Node.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing node token", "users:\n  a:\n    token: x\n"},
		{"missing users", "node:\n  token: n\n"},
		{"duplicate user token", "node:\n  token: n\nusers:\n  a:\n    token: x\n  b:\n    token: x\n"},
		{"half tls", "node:\n  token: n\nusers:\n  a:\n    token: x\napi:\n  tls_cert: c.pem\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Node.Token, 32)
	require.Contains(t, c.Users, "first-user")
	assert.Len(t, c.Users["first-user"].Token, 32)
	assert.Equal(t, []string{c.API.DefaultModel}, c.Models)
}
