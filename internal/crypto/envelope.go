// Package crypto implements the compress-then-encrypt-then-authenticate
// envelope every stored blob and manifest DB file passes through (spec
// §4.2, §6.2), plus the RSA wrap/unwrap of manifest key pairs.
//
// The teacher application hand-rolled its primitives from scratch for its
// single-archive-file format; this package reuses neither those primitives
// nor that file's framing. A sealed blob carries no header: it is the
// (optionally zlib-compressed) AES-CTR stream alone, written block by block
// on the calling goroutine. The primitives come from the standard
// library's crypto/aes, crypto/cipher, crypto/hmac, and crypto/rsa, since
// nothing in this corpus improves on stdlib for FIPS-specified primitives.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/acrlabs/backuppy/internal/backuperrors"
	"github.com/acrlabs/backuppy/internal/ioiter"
)

// KeyPairSize is the length in bytes of a fresh key pair: 32-byte AES-256
// key plus 16-byte CTR nonce.
const KeyPairSize = 48

// AuthenticatedKeyPairSize is KeyPairSize extended with the 32-byte
// HMAC-SHA256 tag of the sealed blob's ciphertext, as stored in a manifest
// row's key_pair column.
const AuthenticatedKeyPairSize = KeyPairSize + sha256.Size

const (
	aesKeySize = 32
	ctrIVSize  = 16
)

// Options toggles the two envelope stages; both default true. They are the
// per-backup-set `use_compression`/`use_encryption` settings (§6.5).
type Options struct {
	UseCompression bool
	UseEncryption  bool
}

// DefaultOptions matches the spec's stated defaults: both stages on.
func DefaultOptions() Options { return Options{UseCompression: true, UseEncryption: true} }

// GenerateKeyPair returns a fresh random 48-byte AES key + CTR nonce. If
// encryption is disabled the key pair is meaningless but still generated so
// callers always have a stable-shaped value to persist.
func GenerateKeyPair() ([]byte, error) {
	kp := make([]byte, KeyPairSize)
	if _, err := rand.Read(kp); err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return kp, nil
}

// Seal reads plaintext blocks from in, writes ciphertext blocks to out, and
// returns the HMAC-SHA256 tag over the ciphertext (empty when encryption is
// disabled). This is the write path of spec §4.2.
func Seal(in, out *ioiter.IOIter, keyPair []byte, opts Options) ([]byte, error) {
	key, nonce := splitKeyPair(keyPair)

	reader, err := in.Reader(-1, true)
	if err != nil {
		return nil, err
	}
	writer, err := out.Writer()
	if err != nil {
		return nil, err
	}

	var stream cipher.Stream
	var mac hashWriter
	if opts.UseEncryption {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		stream = cipher.NewCTR(block, nonce)
		mac = newHMAC(key)
	}

	var zw *flateWriter
	if opts.UseCompression {
		zw, err = newFlateWriter()
		if err != nil {
			return nil, err
		}
	}

	emit := func(block []byte) error {
		if len(block) == 0 {
			return nil
		}
		if opts.UseEncryption {
			ct := make([]byte, len(block))
			stream.XORKeyStream(ct, block)
			mac.Write(ct)
			block = ct
		}
		return writer.Write(block)
	}

	for {
		block, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if opts.UseCompression {
			compressed, err := zw.Compress(block)
			if err != nil {
				return nil, err
			}
			if err := emit(compressed); err != nil {
				return nil, err
			}
			continue
		}
		if err := emit(block); err != nil {
			return nil, err
		}
	}

	if opts.UseCompression {
		tail, err := zw.Flush()
		if err != nil {
			return nil, err
		}
		if err := emit(tail); err != nil {
			return nil, err
		}
	}

	if opts.UseEncryption {
		return mac.Sum(), nil
	}
	return nil, nil
}

// Open reads ciphertext blocks from in, verifies the HMAC tag, and writes
// plaintext blocks to out. This is the read path of spec §4.2.
func Open(in, out *ioiter.IOIter, keyPair []byte, tag []byte, opts Options) error {
	key, nonce := splitKeyPair(keyPair)

	reader, err := in.Reader(-1, true)
	if err != nil {
		return err
	}
	writer, err := out.Writer()
	if err != nil {
		return err
	}

	var stream cipher.Stream
	var mac hashWriter
	if opts.UseEncryption {
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		stream = cipher.NewCTR(block, nonce)
		mac = newHMAC(key)
	}

	var zr *flateReader
	if opts.UseCompression {
		zr = newFlateReader()
	}

	for {
		block, ok, err := reader.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if opts.UseEncryption {
			mac.Write(block)
			pt := make([]byte, len(block))
			stream.XORKeyStream(pt, block)
			block = pt
		}
		if opts.UseCompression {
			out, err := zr.Decompress(block)
			if err != nil {
				return err
			}
			block = out
		}
		if len(block) > 0 {
			if err := writer.Write(block); err != nil {
				return err
			}
		}
	}

	if opts.UseEncryption {
		sum := mac.Sum()
		if !hmac.Equal(sum, tag) {
			return backuperrors.NewBackupCorrupted("HMAC tag mismatch", nil)
		}
	}

	if opts.UseCompression {
		tail, err := zr.Close()
		if err != nil {
			return err
		}
		if len(tail) > 0 {
			if err := writer.Write(tail); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitKeyPair(kp []byte) (key, nonce []byte) {
	if len(kp) < aesKeySize+ctrIVSize {
		return make([]byte, aesKeySize), make([]byte, ctrIVSize)
	}
	return kp[:aesKeySize], kp[aesKeySize : aesKeySize+ctrIVSize]
}

// ExtendKeyPair appends a blob's HMAC tag to its key pair, producing the
// 80-byte authenticated record stored in a manifest row.
func ExtendKeyPair(keyPair, tag []byte) []byte {
	out := make([]byte, 0, len(keyPair)+len(tag))
	out = append(out, keyPair...)
	out = append(out, tag...)
	return out
}

// SplitAuthenticatedKeyPair separates a stored 80-byte record back into its
// 48-byte key pair and 32-byte HMAC tag.
func SplitAuthenticatedKeyPair(akp []byte) (keyPair, tag []byte, err error) {
	if len(akp) != AuthenticatedKeyPairSize {
		return nil, nil, fmt.Errorf("expected %d-byte authenticated key pair, got %d", AuthenticatedKeyPairSize, len(akp))
	}
	return akp[:KeyPairSize], akp[KeyPairSize:], nil
}

type hashWriter interface {
	Write(p []byte)
	Sum() []byte
}

type hmacWriter struct {
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

func newHMAC(key []byte) hashWriter {
	return &hmacWriter{h: hmac.New(sha256.New, key)}
}

func (h *hmacWriter) Write(p []byte) { h.h.Write(p) }
func (h *hmacWriter) Sum() []byte    { return h.h.Sum(nil) }
