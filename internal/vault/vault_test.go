package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinc-payment-service/internal/models"
)

func TestNewRequiresMasterKey(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoEncryptionKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-master-key")
	require.NoError(t, err)

	cases := []map[string]interface{}{
		{"secret_key": "sk_test_123", "webhook_secret": "whsec_456"},
		{"client_id": "abc", "client_secret": "def", "nested": map[string]interface{}{"k": "v"}},
		{},
	}

	for _, creds := range cases {
		blob, err := v.Encrypt(creds)
		require.NoError(t, err)
		assert.Equal(t, true, blob["encrypted"])
		assert.NotEmpty(t, blob["data"])

		got, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, len(creds), len(got))
		for k := range creds {
			if _, nested := creds[k].(map[string]interface{}); nested {
				continue
			}
			assert.Equal(t, creds[k], got[k])
		}
	}
}

func TestEncryptNilCredentials(t *testing.T) {
	v, err := New("test-master-key")
	require.NoError(t, err)

	blob, err := v.Encrypt(nil)
	require.NoError(t, err)

	got, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	v1, err := New("key-one")
	require.NoError(t, err)
	v2, err := New("key-two")
	require.NoError(t, err)

	blob, err := v1.Encrypt(map[string]interface{}{"api_key": "secret"})
	require.NoError(t, err)

	got, err := v2.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.Nil(t, got)
}

func TestDecryptMalformedBlob(t *testing.T) {
	v, err := New("test-master-key")
	require.NoError(t, err)

	cases := []models.JSONB{
		nil,
		{},
		{"encrypted": false, "data": "abc"},
		{"encrypted": true},
		{"encrypted": true, "data": "not base64!!!"},
		{"encrypted": true, "data": "c2hvcnQ="},
	}

	for _, blob := range cases {
		got, err := v.Decrypt(blob)
		assert.ErrorIs(t, err, ErrDecryption)
		assert.Nil(t, got)
	}
}

func TestCiphertextVariesPerCall(t *testing.T) {
	v, err := New("test-master-key")
	require.NoError(t, err)

	creds := map[string]interface{}{"api_key": "secret"}
	a, err := v.Encrypt(creds)
	require.NoError(t, err)
	b, err := v.Encrypt(creds)
	require.NoError(t, err)

	// Random nonce means identical plaintext never produces identical blobs
	assert.NotEqual(t, a["data"], b["data"])
}
