// Package signature verifies ed25519 signatures from trusted chain signers.
// Keys and signatures are base58 encoded.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"agri-token-ledger/internal/domain"
)

var (
	// ErrUntrustedSigner indicates the signer is not in the trusted set.
	ErrUntrustedSigner = errors.New("untrusted signer")

	// ErrBadSignature indicates a malformed or non-matching signature.
	ErrBadSignature = errors.New("bad signature")
)

// Verifier checks signatures against a fixed set of trusted public keys.
type Verifier struct {
	trusted map[string]ed25519.PublicKey
}

// NewVerifier builds a verifier from base58 public keys. Every key must
// decode to a valid point on the ed25519 curve.
func NewVerifier(signers []string) (*Verifier, error) {
	v := &Verifier{trusted: make(map[string]ed25519.PublicKey, len(signers))}
	for _, s := range signers {
		key, err := decodePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("trusted signer %s: %w", s, err)
		}
		v.trusted[s] = key
	}
	return v, nil
}

// Trusted reports whether signer is in the trusted set.
func (v *Verifier) Trusted(signer string) bool {
	_, ok := v.trusted[signer]
	return ok
}

// Verify checks that sig is a valid signature of message by signer.
func (v *Verifier) Verify(message []byte, signer, sig string) error {
	key, ok := v.trusted[signer]
	if !ok {
		return ErrUntrustedSigner
	}
	raw, err := base58.Decode(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(key, message, raw) {
		return ErrBadSignature
	}
	return nil
}

func decodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	if !isOnCurve(raw) {
		return nil, errors.New("public key is not on the ed25519 curve")
	}
	return ed25519.PublicKey(raw), nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// Signer signs canonical messages. Used by the mock chain and tests.
type Signer struct {
	PublicKey  string
	privateKey ed25519.PrivateKey
}

// GenerateSigner creates a signer with a random key.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{PublicKey: base58.Encode(pub), privateKey: priv}, nil
}

// Sign returns the base58 signature of message.
func (s *Signer) Sign(message []byte) string {
	return base58.Encode(ed25519.Sign(s.privateKey, message))
}

// TxConfirmMessage is the canonical message of a transaction confirmation.
// Format: tx-confirm|hash|status|block
func TxConfirmMessage(hash string, status domain.TxStatus, block uint64) []byte {
	return []byte(fmt.Sprintf("tx-confirm|%s|%s|%d", hash, status, block))
}

// ChainEventMessage is the canonical message of a chain event.
// Format: chain-event|type|asset_id|block|previous_block|sha256(payload)
func ChainEventMessage(ev *domain.ChainEvent) []byte {
	digest := sha256.Sum256(ev.Payload)
	return []byte(fmt.Sprintf("chain-event|%s|%s|%d|%d|%s",
		ev.Type, ev.AssetID, ev.BlockNumber, ev.PreviousBlock, hex.EncodeToString(digest[:])))
}
