// Package evm executes EVM-family transactions through the shared pipeline.
//
// The adapter resolves a nonce through the shared nonce cache, prices gas
// off the chain's suggestion, dry-runs via eth_call plus gas estimation,
// and confirms by polling for the receipt. All chain access goes through
// the narrow Client interface, satisfied by *ethclient.Client.
package evm

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Request is one EVM transaction intent. Immutable once submitted to the
// pipeline.
type Request struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	// Value in wei. Nil means zero.
	Value *big.Int
	Data  []byte
	// GasLimit of 0 means estimate during simulation.
	GasLimit uint64
}

func (r Request) value() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return r.Value
}

// TxParams is the fully resolved transaction handed to the signer.
type TxParams struct {
	Request
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
}

// Client is the read surface the executor needs per chain.
// *ethclient.Client satisfies it.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs and submits a resolved transaction, returning its hash.
// Implementations hold the key material; the executor never sees it.
type Signer interface {
	SignAndSendTransaction(ctx context.Context, params TxParams) (common.Hash, error)
}
