package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

func genTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, minRSAKeyBits)
	require.NoError(t, err)
	return key
}

func TestWrapUnwrapKeyPair_RoundTrip(t *testing.T) {
	priv := genTestKey(t)
	akp, err := GenerateKeyPair()
	require.NoError(t, err)
	akp = ExtendKeyPair(akp, make([]byte, 32))

	ciphertext, sig, err := WrapKeyPair(&priv.PublicKey, priv, akp)
	require.NoError(t, err)

	got, err := UnwrapKeyPair(&priv.PublicKey, priv, ciphertext, sig)
	require.NoError(t, err)
	require.Equal(t, akp, got)
}

func TestUnwrapKeyPair_RejectsTamperedSignature(t *testing.T) {
	priv := genTestKey(t)
	akp, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, sig, err := WrapKeyPair(&priv.PublicKey, priv, akp)
	require.NoError(t, err)
	sig[0] ^= 0xff

	_, err = UnwrapKeyPair(&priv.PublicKey, priv, ciphertext, sig)
	require.Error(t, err)
	var corrupted *backuperrors.BackupCorrupted
	require.ErrorAs(t, err, &corrupted)
}

func TestLoadPrivateKey_RejectsUndersizedKey(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(small)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	_, err = LoadPrivateKey(pemBytes)
	require.Error(t, err)
}
