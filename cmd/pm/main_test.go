package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/share"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

func TestShareErrorMapsToUserErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{share.ErrShareRevoked, "share has been revoked"},
		{share.ErrShareExpired, "share has expired"},
		{share.ErrShareExhausted, "share has no uses left"},
		{krypto.ErrAuthentication, "share could not be opened with this key"},
		{model.ErrNotFound, "no share with id s1"},
	}
	for _, tc := range tests {
		err := shareError("s1", fmt.Errorf("consume share s1: %w", tc.err))
		var uerr userError
		require.True(t, errors.As(err, &uerr), tc.err)
		assert.Equal(t, tc.want, uerr.msg)
	}

	other := errors.New("disk full")
	assert.Equal(t, other, shareError("s1", other))
}

func TestPassphraseErrorMapsPolicy(t *testing.T) {
	err := passphraseError(fmt.Errorf("passphrase policy: %w", auth.ErrWeakPassphrase))
	var uerr userError
	require.True(t, errors.As(err, &uerr))
	assert.Contains(t, uerr.msg, "policy requirements")
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("PM_CONFIG", "")
	dir := t.TempDir()

	var g globalFlags
	fs := newFlagSet("list", &g)
	require.NoError(t, parseFlags(fs, []string{"--dir", dir, "--backend", "FILE"}))

	cfg, err := g.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Vault.Dir)
	assert.Equal(t, config.BackendFile, cfg.Vault.Backend)
}

func TestParseFlagsRejectsPositionals(t *testing.T) {
	var g globalFlags
	fs := newFlagSet("get", &g)
	err := parseFlags(fs, []string{"extra"})
	var uerr userError
	assert.True(t, errors.As(err, &uerr))

	assert.ErrorIs(t, parseFlags(newFlagSet("get", &g), []string{"--help"}), errHelp)
}
