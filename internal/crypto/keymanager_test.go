package crypto

import (
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("not-a-real-key-but-pem-framed")})

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(samplePEM, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "PRIVATE KEY")

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, samplePEM, got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "wrong password")
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := EncryptKey(samplePEM, "")
	assert.Error(t, err)

	_, err = EncryptKey([]byte("plain text"), "pw")
	assert.ErrorContains(t, err, "no PEM block")
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(plain, samplePEM, 0o600))

	blob, err := EncryptKey(samplePEM, "pw")
	require.NoError(t, err)
	enc := filepath.Join(dir, "key.enc.json")
	require.NoError(t, os.WriteFile(enc, blob, 0o600))

	got, err := LoadKey(KeyConfig{PEMPath: plain, EncryptedKeyPath: enc})
	require.NoError(t, err)
	assert.Equal(t, samplePEM, got)

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: enc, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, samplePEM, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestDecryptKey_HeaderIsAuthenticated(t *testing.T) {
	blob, err := EncryptKey(samplePEM, "pw")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))
	doc["iterations"] = defaultIterations + 1
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "pw")
	assert.ErrorIs(t, err, errWrongPassword)
}

func TestDecryptKey_RejectsWeakKDF(t *testing.T) {
	blob, err := EncryptKey(samplePEM, "pw")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))
	doc["iterations"] = 1000
	weak, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = DecryptKey(weak, "pw")
	assert.ErrorContains(t, err, "below the minimum")
}
