package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"agri-token-ledger/internal/domain"
)

// StatusReader reads transaction status directly from a Solana RPC node.
type StatusReader struct {
	client *rpc.Client
}

// NewStatusReader creates a reader for the RPC endpoint.
func NewStatusReader(endpoint string) *StatusReader {
	return &StatusReader{client: rpc.New(endpoint)}
}

// GetTransactionStatus maps the signature status to a ledger status:
// an error is failed, finalized is completed, anything else is pending.
func (r *StatusReader) GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, Permanent(fmt.Errorf("parse signature %s: %w", hash, err))
	}

	out, err := r.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, ErrTxNotFound
	}

	st := out.Value[0]
	status := &TxStatus{Hash: hash, BlockNumber: st.Slot, Status: domain.TxStatusPending}
	if st.Confirmations != nil {
		status.Confirmations = int(*st.Confirmations)
	}
	switch {
	case st.Err != nil:
		status.Status = domain.TxStatusFailed
	case st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		status.Status = domain.TxStatusCompleted
	}
	return status, nil
}

// Live submits through the relayer and reads status from the RPC node when
// one is configured.
type Live struct {
	*RelayerClient
	status *StatusReader
}

// NewLive creates a live actor. rpcEndpoint may be empty, in which case
// status comes from the relayer.
func NewLive(relayer *RelayerClient, rpcEndpoint string) *Live {
	l := &Live{RelayerClient: relayer}
	if rpcEndpoint != "" {
		l.status = NewStatusReader(rpcEndpoint)
	}
	return l
}

// GetTransactionStatus implements Actor.
func (l *Live) GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error) {
	if l.status != nil {
		return l.status.GetTransactionStatus(ctx, hash)
	}
	return l.RelayerClient.GetTransactionStatus(ctx, hash)
}

// Verify interface compliance at compile time.
var _ Actor = (*Live)(nil)
