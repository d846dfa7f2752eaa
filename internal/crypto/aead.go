// Package crypto implements the authenticated-encryption primitive spec.md
// §1 lists as an external collaborator: per-block encrypt/decrypt with a
// random per-block key and a MAC, using a zero IV (safe only because every
// key is freshly random per block — see Key, below). No third-party AEAD
// package appears anywhere in the retrieval pack, so this is the one
// concern in the tree built directly on the standard library
// (crypto/aes + crypto/cipher's GCM mode) — recorded in DESIGN.md.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	sderrors "github.com/sworndisk/sworndisk/pkg/errors"
)

// KeySize is the per-block AES-256 key size in bytes.
const KeySize = 32

// MACSize is the GCM authentication tag size in bytes.
const MACSize = 16

// Key is a random, single-use, per-block encryption key.
type Key [KeySize]byte

// MAC is the authentication tag produced by Encrypt and checked by Decrypt.
type MAC [MACSize]byte

// zeroNonce is safe here only because every Key is generated fresh and used
// exactly once: AES-GCM's security relies on (key, nonce) pairs never
// repeating, and a random key makes a fixed nonce of zero equivalent to a
// random nonce for this purpose.
var zeroNonce [12]byte

// RandomKey draws a fresh random per-block key from crypto/rand.
func RandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "failed to draw random block key")
	}
	return k, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, sderrors.NewDiskError(err, sderrors.ErrorCodeInvalidArgs, "invalid AES key")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(zeroNonce))
	if err != nil {
		return nil, sderrors.NewDiskError(err, sderrors.ErrorCodeInvalidArgs, "failed to construct GCM mode")
	}
	return gcm, nil
}

// Encrypt encrypts plaintext in place semantics: it returns a freshly
// allocated ciphertext of the same length as plaintext, plus the MAC.
// Callers are expected to have drawn key via RandomKey.
func Encrypt(key Key, plaintext []byte) (ciphertext []byte, mac MAC, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, mac, err
	}
	sealed := gcm.Seal(nil, zeroNonce[:], plaintext, nil)
	ciphertext = sealed[:len(plaintext)]
	copy(mac[:], sealed[len(plaintext):])
	return ciphertext, mac, nil
}

// Decrypt authenticates and decrypts ciphertext given its key and MAC,
// writing plaintext into dst (which must be len(ciphertext) bytes).
func Decrypt(key Key, ciphertext []byte, mac MAC, dst []byte) error {
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	sealed := make([]byte, 0, len(ciphertext)+MACSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, mac[:]...)
	plain, err := gcm.Open(dst[:0], zeroNonce[:], sealed, nil)
	if err != nil {
		return sderrors.NewDiskError(err, sderrors.ErrorCodeIOFailed, "block authentication failed")
	}
	if len(plain) > 0 && &plain[0] != &dst[0] {
		copy(dst, plain)
	}
	return nil
}
