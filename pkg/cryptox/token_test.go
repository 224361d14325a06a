package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(24)
	require.NoError(t, err)
	require.Len(t, token, 32)

	token2, err := GenerateToken(24)
	require.NoError(t, err)
	require.NotEqual(t, token, token2, "tokens should be unique")
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestNewSecret(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	require.Len(t, secret, 43)
}

func TestFingerprint(t *testing.T) {
	fp1a := Fingerprint("secret-1")
	fp1b := Fingerprint("secret-1")
	fp2 := Fingerprint("secret-2")

	require.Equal(t, fp1a, fp1b, "fingerprint should be deterministic")
	require.NotEqual(t, fp1a, fp2)
	require.Len(t, fp1a, fingerprintLen)
	require.Equal(t, FingerprintToken("secret-1")[:fingerprintLen], fp1a)
	require.NotContains(t, fp1a, "secret")
	require.Empty(t, Fingerprint(""))
}
