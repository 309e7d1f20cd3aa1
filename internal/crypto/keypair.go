package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// minRSAKeyBits is the smallest accepted modulus size. The spec calls for
// RSA-4096; original_source/backuppy's _get_key rejects anything smaller,
// and this carries the same floor forward.
const minRSAKeyBits = 4096

// LoadPrivateKey parses a PEM-encoded PKCS#8 RSA private key and rejects
// any key shorter than 4096 bits.
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if k, err2 := x509.ParsePKCS1PrivateKey(block.Bytes); err2 == nil {
			key = k
		} else {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	if rsaKey.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", rsaKey.N.BitLen(), minRSAKeyBits)
	}
	return rsaKey, nil
}

// LoadPublicKey parses a PEM-encoded PKIX RSA public key, same size floor
// as LoadPrivateKey.
func LoadPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key file")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	if rsaKey.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", rsaKey.N.BitLen(), minRSAKeyBits)
	}
	return rsaKey, nil
}

// WrapKeyPair encrypts an (authenticated) key pair under the manifest
// owner's public key using RSA-OAEP/SHA-256, then signs the plaintext key
// pair (not the ciphertext) with the private key using RSA-PSS/SHA-256,
// mirroring encrypt_and_sign in original_source/backuppy/crypto.py, which
// signs `data` itself before it is ever encrypted.
func WrapKeyPair(pub *rsa.PublicKey, priv *rsa.PrivateKey, akp []byte) (ciphertext, signature []byte, err error) {
	ciphertext, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, akp, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap key pair: %w", err)
	}
	digest := sha256.Sum256(akp)
	signature, err = rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sign wrapped key pair: %w", err)
	}
	return ciphertext, signature, nil
}

// UnwrapKeyPair decrypts ciphertext under the private key, then verifies
// the RSA-PSS signature over the recovered plaintext key pair, matching
// decrypt_and_verify's decrypt-then-verify order. A signature or
// decryption failure comes back as BackupCorrupted, since it means the
// manifest's key-pair blob was altered or written by a different key.
func UnwrapKeyPair(pub *rsa.PublicKey, priv *rsa.PrivateKey, ciphertext, signature []byte) ([]byte, error) {
	akp, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, backuperrors.NewBackupCorrupted("key pair decryption failed", err)
	}
	digest := sha256.Sum256(akp)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, nil); err != nil {
		return nil, backuperrors.NewBackupCorrupted("key pair signature verification failed", err)
	}
	return akp, nil
}
