package signature

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mr-tron/base58"

	"agri-token-ledger/internal/domain"
)

func TestVerifier_RoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner failed: %v", err)
	}
	v, err := NewVerifier([]string{signer.PublicKey})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	msg := TxConfirmMessage("hash-1", domain.TxStatusCompleted, 10)
	sig := signer.Sign(msg)

	if err := v.Verify(msg, signer.PublicKey, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	tampered := TxConfirmMessage("hash-1", domain.TxStatusFailed, 10)
	if err := v.Verify(tampered, signer.PublicKey, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered message: got %v, want ErrBadSignature", err)
	}
	if err := v.Verify(msg, signer.PublicKey, "not-base58-0OIl"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("garbage signature: got %v, want ErrBadSignature", err)
	}
}

func TestVerifier_UntrustedSigner(t *testing.T) {
	trusted, _ := GenerateSigner()
	other, _ := GenerateSigner()
	v, err := NewVerifier([]string{trusted.PublicKey})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	msg := []byte("payload")
	if err := v.Verify(msg, other.PublicKey, other.Sign(msg)); !errors.Is(err, ErrUntrustedSigner) {
		t.Errorf("got %v, want ErrUntrustedSigner", err)
	}
	if v.Trusted(other.PublicKey) {
		t.Error("other signer must not be trusted")
	}
}

func TestNewVerifier_RejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base58", "0OIl"},
		{"short key", base58.Encode([]byte{1, 2, 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVerifier([]string{tt.key}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestChainEventMessage_BindsPayload(t *testing.T) {
	ev := &domain.ChainEvent{
		Type:        domain.EventAssetTransferred,
		AssetID:     "asset-1",
		BlockNumber: 105,
		Payload:     json.RawMessage(`{"from":"a","to":"b"}`),
	}
	a := string(ChainEventMessage(ev))
	ev.Payload = json.RawMessage(`{"from":"a","to":"c"}`)
	b := string(ChainEventMessage(ev))
	if a == b {
		t.Error("payload change must change the message")
	}
}
