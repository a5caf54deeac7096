// Package cryptoops wraps the two black-box primitive families the ATM
// protocol needs: card signatures and bank<->HSM authenticated sealing.
package cryptoops

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of a bank- or HSM-issued challenge.
	NonceSize = 32
	// SignatureSize is the size of a card signature over a nonce.
	SignatureSize = 64
	// PublicKeySize is the size of a card's signature verification key.
	PublicKeySize = ed25519.PublicKeySize
	// SecretKeySize is the size of a card's PIN-derived signing key.
	SecretKeySize = ed25519.PrivateKeySize
	// SealKeySize is the size of the symmetric key shared between the bank
	// and one HSM.
	SealKeySize = 32
	// sealNonceSize is what nacl/secretbox requires.
	sealNonceSize = 24
	// ctxSize is the authenticated-context tag mixed into every seal.
	ctxSize = 8
)

// DeriveSecretKey stretches an 8-byte PIN into a deterministic 32-byte
// ed25519 seed and returns the resulting private key. Real hardware would
// do this derivation inside the card; the software emulator and the bank's
// verification-key bookkeeping both need the same derivation to agree.
func DeriveSecretKey(pin []byte) ed25519.PrivateKey {
	seed := sha256.Sum256(append([]byte("atm-card-pin-seed:"), pin...))
	return ed25519.NewKeyFromSeed(seed[:])
}

// DerivePublicKey returns the public key corresponding to the PIN-derived
// secret key, without needing the caller to materialize the secret key.
func DerivePublicKey(pin []byte) []byte {
	sk := DeriveSecretKey(pin)
	pub := make([]byte, PublicKeySize)
	copy(pub, sk.Public().(ed25519.PublicKey))
	return pub
}

// Sign produces a deterministic 64-byte signature over msg under sk.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify reports whether sig is a valid signature over msg under pk.
func Verify(pk, msg, sig []byte) bool {
	if len(pk) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// RandomNonce returns a fresh 32-byte challenge.
func RandomNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("cryptoops: generate nonce: %w", err)
	}
	return n, nil
}

// sealNonce builds the 24-byte nonce nacl/secretbox requires out of an
// 8-byte context tag and the 32-byte HSM-issued nonce. Only the first 16
// bytes of the HSM nonce are used directly; the remaining 16 are folded in
// by XOR so no entropy the HSM generated is silently dropped, resolving
// the spec's open question about 8-byte vs 32-byte HSM nonces in favor of
// using the whole 32 bytes.
func sealNonce(ctx [ctxSize]byte, hsmNonce []byte) ([sealNonceSize]byte, error) {
	var out [sealNonceSize]byte
	if len(hsmNonce) != NonceSize {
		return out, fmt.Errorf("cryptoops: hsm nonce must be %d bytes, got %d", NonceSize, len(hsmNonce))
	}
	copy(out[:ctxSize], ctx[:])
	copy(out[ctxSize:], hsmNonce[:16])
	for i := 0; i < 16; i++ {
		out[ctxSize+i] ^= hsmNonce[16+i]
	}
	return out, nil
}

// Seal encrypts plaintext for the HSM identified by key, binding the
// result to ctx (an 8-byte operation tag, e.g. "BAL\x00\x00\x00\x00\x00")
// and the HSM-issued nonce.
func Seal(plaintext []byte, ctx [ctxSize]byte, hsmNonce []byte, key *[SealKeySize]byte) ([]byte, error) {
	nonce, err := sealNonce(ctx, hsmNonce)
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nil, plaintext, &nonce, key), nil
}

// Open decrypts and authenticates a ciphertext produced by Seal with the
// same ctx, hsmNonce and key.
func Open(ciphertext []byte, ctx [ctxSize]byte, hsmNonce []byte, key *[SealKeySize]byte) ([]byte, error) {
	nonce, err := sealNonce(ctx, hsmNonce)
	if err != nil {
		return nil, err
	}
	out, ok := secretbox.Open(nil, ciphertext, &nonce, key)
	if !ok {
		return nil, errors.New("cryptoops: authentication failed")
	}
	return out, nil
}

// Ctx builds the fixed-width context tag for an operation name.
func Ctx(name string) [ctxSize]byte {
	var out [ctxSize]byte
	copy(out[:], name)
	return out
}
