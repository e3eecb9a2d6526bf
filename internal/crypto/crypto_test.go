package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := Encrypt([]byte("hunter2"), "pw")
	require.NoError(t, err)

	plain, err := Decrypt(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))

	_, err = Decrypt(blob, "wrong")
	assert.Error(t, err)

	_, err = Encrypt([]byte("x"), "")
	assert.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	full := Credentials{Username: "bot", Password: "secret", SharedSecret: "c2VjcmV0", SteamID: "7656"}

	t.Run("plain wins when complete", func(t *testing.T) {
		got, err := LoadCredentials(CredentialConfig{Plain: full, EncryptedPath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, full, got)
	})

	t.Run("file with plain overlay", func(t *testing.T) {
		blob, err := EncryptCredentials(full, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "creds.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := LoadCredentials(CredentialConfig{
			Plain:         Credentials{APIKey: "override"},
			EncryptedPath: path,
			Passphrase:    "pw",
		})
		require.NoError(t, err)
		assert.Equal(t, "bot", got.Username)
		assert.Equal(t, "override", got.APIKey)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := LoadCredentials(CredentialConfig{})
		assert.Error(t, err)
	})
}

func TestGuardCode(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("12345678901234567890"))
	at := time.Unix(1_700_000_000, 0)

	code, err := GuardCode(secret, at)
	require.NoError(t, err)
	assert.Len(t, code, 5)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(guardAlphabet, r), "unexpected symbol %q", r)
	}

	// Same 30 second window, same code.
	same, err := GuardCode(secret, at.Add(29*time.Second-time.Duration(at.Unix()%30)*time.Second))
	require.NoError(t, err)
	assert.Equal(t, code, same)

	next, err := GuardCode(secret, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, code, next)

	_, err = GuardCode("not base64!", at)
	assert.Error(t, err)
}
