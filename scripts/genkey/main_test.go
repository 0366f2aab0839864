package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWriteKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	out, err := run(t, "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "jwt_private.pem")

	// The written pair loads as a signing manager.
	_, err = auth.NewJWTManager(filepath.Join(dir, "jwt_private.pem"), filepath.Join(dir, "jwt_public.pem"), 0)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "jwt_private.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = run(t, "--dir", dir)
	assert.ErrorContains(t, err, "already exists")
}

func TestHashFlag(t *testing.T) {
	out, err := run(t, "--hash", "sk_solace_example")
	require.NoError(t, err)

	hash, ok := strings.CutPrefix(strings.TrimSpace(out), "SOLACE_ADMIN_API_KEY_HASH=")
	require.True(t, ok, "unexpected output %q", out)
	valid, err := auth.VerifyAPIKey("sk_solace_example", hash)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestAdminKeyFlag(t *testing.T) {
	out, err := run(t, "--admin-key")
	require.NoError(t, err)

	var key, hash string
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "SOLACE_ADMIN_API_KEY_HASH="); ok {
			hash = v
		} else if v, ok := strings.CutPrefix(line, "SOLACE_ADMIN_API_KEY="); ok {
			key = v
		}
	}
	require.True(t, strings.HasPrefix(key, "sk_solace_"))
	valid, err := auth.VerifyAPIKey(key, hash)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestFlagsAreExclusive(t *testing.T) {
	_, err := run(t, "--admin-key", "--hash", "x")
	assert.Error(t, err)
}
