package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `{
		"log": {"level": "INFO"},
		"listeners": [{"name": "main", "transport": "tcp", "address": "127.0.0.1:7777"}],
		"auth": [{"name": "static_key", "static_key": "secret"}],
		"manager": {"keychain_path": "keychain.db", "keychain_key_hex": "0000000000000000000000000000000000000000000000000000000000000000", "throttle_window_sec": 60, "throttle_max": 5}
	}`)
	require.NoError(t, Load(path))
	require.Equal(t, "main", Current.Listeners[0].Name)
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	path := writeTemp(t, `{"listeners": [{"name": "main", "transport": "carrier-pigeon", "address": "x"}]}`)
	require.Error(t, Load(path))
}

func TestLoadRejectsDuplicateListenerNames(t *testing.T) {
	path := writeTemp(t, `{"listeners": [
		{"name": "main", "transport": "tcp", "address": "a"},
		{"name": "main", "transport": "tcp", "address": "b"}
	]}`)
	require.Error(t, Load(path))
}

func TestReloadLeavesCurrentInPlaceOnError(t *testing.T) {
	good := writeTemp(t, `{"listeners": [{"name": "main", "transport": "tcp", "address": "a"}]}`)
	require.NoError(t, Load(good))
	prev := Current

	bad := writeTemp(t, `{"listeners": []}`)
	require.Error(t, Reload(bad))
	require.Same(t, prev, Current)
}
