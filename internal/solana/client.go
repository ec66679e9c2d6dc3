package solana

import (
	"context"

	solanago "github.com/gagliardetto/solana-go"
)

// PrioritizationFee is one recent-fee sample from the cluster.
type PrioritizationFee struct {
	Slot              uint64
	PrioritizationFee uint64
}

// Client is the RPC surface the executor needs.
type Client interface {
	LatestBlockhash(ctx context.Context) (solanago.Hash, error)
	SimulateTransaction(ctx context.Context, tx *solanago.Transaction) (SimulateResult, error)
	RecentPrioritizationFees(ctx context.Context, accounts []solanago.PublicKey) ([]PrioritizationFee, error)
}

// Signer signs and submits a fully built transaction. Key custody
// stays behind this interface.
type Signer interface {
	SignAndSendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}
