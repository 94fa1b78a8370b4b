// Package walletauth verifies Ethereum-style detached signatures: ECDSA
// over secp256k1 of the Keccak-256 hash of a UTF-8 payload, with a
// recovered address compared against a bearer-supplied public key. The
// curve math and hashing are real primitives — this package does not
// reimplement ECDSA recovery or Keccak itself, it wires the recovery
// through github.com/decred/dcrd/dcrec/secp256k1/v4 and hashing through
// golang.org/x/crypto/sha3.
package walletauth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// Auth carries the bearer-supplied public key and the signature over a
// payload, both hex strings optionally prefixed with "0x".
type Auth struct {
	PublicKey string
	Signature string
}

var (
	// ErrMissingAuth is returned when Auth is nil or incomplete.
	ErrMissingAuth = errors.New("authentication required: missing public key or signature")
	// ErrInvalidSignature covers malformed hex, wrong length, and
	// recovery failures.
	ErrInvalidSignature = errors.New("authentication failed: invalid signature")
	// ErrKeyMismatch is returned when the recovered address does not
	// equal the bearer-supplied public key.
	ErrKeyMismatch = errors.New("authentication failed: public key mismatch")
)

// VerifySignature recovers the signer's address from a 65-byte r||s||v
// signature over Keccak-256(payload) and checks it case-insensitively
// against auth.PublicKey. v is normalized from Ethereum's {27,28} (or
// already-normalized {0,1}) before recovery.
func VerifySignature(payload string, auth Auth) (publicKey string, err error) {
	if auth.PublicKey == "" || auth.Signature == "" {
		return "", ErrMissingAuth
	}

	sig, err := decodeHex(auth.Signature)
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes", ErrInvalidSignature)
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}

	hash := keccak256([]byte(payload))

	// decred's compact format is recoveryByte||r||s where recoveryByte
	// = 27 + recid (+4 for a compressed pubkey request). Ethereum's is
	// r||s||v; reassemble before calling RecoverCompact.
	compact := make([]byte, 65)
	compact[0] = 27 + v + 4 // request compressed key; we re-derive the uncompressed address below
	copy(compact[1:], sig[:64])

	pub, _, err := secp256k1.RecoverCompact(compact, hash)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	recovered := deriveAddress(pub)

	want := normalizeKey(auth.PublicKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(recovered)), []byte(strings.ToLower(want))) != 1 {
		return "", ErrKeyMismatch
	}

	return auth.PublicKey, nil
}

// deriveAddress computes the Ethereum-style address for pub: Keccak-256
// of the 64-byte uncompressed X||Y coordinates, last 20 bytes, 0x-prefixed.
func deriveAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	digest := keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(digest[len(digest)-20:])
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return hex.DecodeString(s)
}

func normalizeKey(s string) string {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return "0x" + s
}
