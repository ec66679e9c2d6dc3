package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainclaw-xyz/chainclaw/internal/nonce"
	"github.com/chainclaw-xyz/chainclaw/internal/pipeline"
)

const (
	// DefaultNativeUSD is the fallback native-token price when the caller
	// supplies no hint.
	DefaultNativeUSD = 2500.0

	// gasPriceBumpPct is added to the chain's suggested gas price so the
	// transaction is not priced at the floor.
	gasPriceBumpPct = 10
	// gasHeadroomPct is added to the gas estimate when the request carries
	// no explicit limit.
	gasHeadroomPct = 20

	defaultReceiptPoll  = 2 * time.Second
	defaultReceiptWait  = 90 * time.Second
)

// Executor runs EVM requests through the shared pipeline. One executor
// serves every configured EVM chain; a fresh adapter is created per call.
type Executor struct {
	driver  *pipeline.Driver
	clients map[uint64]Client
	nonces  *nonce.Manager
	logger  *slog.Logger

	receiptPoll time.Duration
	receiptWait time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithReceiptPolling overrides the receipt poll interval and deadline.
func WithReceiptPolling(interval, deadline time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.receiptPoll = interval
		e.receiptWait = deadline
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an EVM executor over the given per-chain clients.
func NewExecutor(driver *pipeline.Driver, clients map[uint64]Client, nonces *nonce.Manager, opts ...ExecutorOption) *Executor {
	e := &Executor{
		driver:      driver,
		clients:     clients,
		nonces:      nonces,
		logger:      slog.Default(),
		receiptPoll: defaultReceiptPoll,
		receiptWait: defaultReceiptWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NonceFetcher adapts a client set into the fetcher the nonce manager
// needs, so both are built from the same configuration.
func NonceFetcher(clients map[uint64]Client) nonce.FetcherFunc {
	return func(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
		client, ok := clients[chainID]
		if !ok {
			return 0, fmt.Errorf("no client configured for chain %d", chainID)
		}
		return client.PendingNonceAt(ctx, account)
	}
}

// Execute drives one request through the pipeline and returns its
// normalized result.
func (e *Executor) Execute(ctx context.Context, req Request, signer Signer, meta pipeline.Meta, hooks pipeline.Hooks) pipeline.Result {
	client, ok := e.clients[req.ChainID]
	if !ok {
		return pipeline.Result{
			Code:    pipeline.CodeUnknown,
			Message: fmt.Sprintf("no client configured for chain %d", req.ChainID),
		}
	}
	a := &adapter{
		req:         req,
		client:      client,
		signer:      signer,
		nonces:      e.nonces,
		logger:      e.logger,
		receiptPoll: e.receiptPoll,
		receiptWait: e.receiptWait,
	}
	return e.driver.Run(ctx, a, meta, hooks)
}

// adapter carries one request through one pipeline run.
type adapter struct {
	req         Request
	client      Client
	signer      Signer
	nonces      *nonce.Manager
	logger      *slog.Logger
	receiptPoll time.Duration
	receiptWait time.Duration

	nonce    uint64
	gasPrice *big.Int
	gasLimit uint64
}

func (a *adapter) Family() pipeline.Family { return pipeline.FamilyEVM }
func (a *adapter) ChainID() uint64         { return a.req.ChainID }
func (a *adapter) LockTarget() string      { return a.req.To.Hex() }

func (a *adapter) Build(ctx context.Context) error {
	n, err := a.nonces.GetNonce(ctx, a.req.ChainID, a.req.From)
	if err != nil {
		return err
	}
	a.nonce = n

	suggested, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	a.gasPrice = bumpPct(suggested, gasPriceBumpPct)
	return nil
}

func (a *adapter) Simulate(ctx context.Context) (string, error) {
	msg := ethereum.CallMsg{
		From:  a.req.From,
		To:    &a.req.To,
		Value: a.req.value(),
		Data:  a.req.Data,
	}
	if _, err := a.client.CallContract(ctx, msg, nil); err != nil {
		return "", err
	}

	a.gasLimit = a.req.GasLimit
	if a.gasLimit == 0 {
		est, err := a.client.EstimateGas(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
		a.gasLimit = est * (100 + gasHeadroomPct) / 100
	}

	return a.preview(), nil
}

func (a *adapter) preview() string {
	return fmt.Sprintf("send %s ETH to %s on chain %d (gas limit %d @ %s gwei) ~ %s",
		formatEther(a.req.value()),
		a.req.To.Hex(),
		a.req.ChainID,
		a.gasLimit,
		formatGwei(a.gasPrice),
		pipeline.FormatUSD(a.EstimatedUSD(0)),
	)
}

func (a *adapter) EstimatedUSD(priceHint float64) float64 {
	price := priceHint
	if price <= 0 {
		price = DefaultNativeUSD
	}
	ether, _ := new(big.Float).Quo(
		new(big.Float).SetInt(a.req.value()),
		big.NewFloat(1e18),
	).Float64()
	return ether * price
}

func (a *adapter) Broadcast(ctx context.Context) (string, error) {
	hash, err := a.signer.SignAndSendTransaction(ctx, TxParams{
		Request:  a.req,
		Nonce:    a.nonce,
		GasPrice: a.gasPrice,
		GasLimit: a.gasLimit,
	})
	if err != nil {
		if isNonceConflict(err) {
			// The cached nonce is stale; drop it so the next send
			// refetches on chain before any retry.
			a.nonces.Reset(a.req.ChainID, a.req.From)
		}
		return "", err
	}
	// Only a successful submission advances the cache.
	a.nonces.Increment(a.req.ChainID, a.req.From)
	return hash.Hex(), nil
}

func (a *adapter) WaitConfirmation(ctx context.Context, hash string) (int64, error) {
	txHash := common.HexToHash(hash)
	deadline := time.NewTimer(a.receiptWait)
	defer deadline.Stop()
	ticker := time.NewTicker(a.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return 0, fmt.Errorf("transaction %s reverted in block %s", hash, receipt.BlockNumber)
			}
			return receipt.BlockNumber.Int64(), nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			a.logger.Warn("receipt lookup failed, retrying", "hash", hash, "err", err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("no receipt for %s within %s", hash, a.receiptWait)
		case <-ticker.C:
		}
	}
}

// isNonceConflict matches the node error strings for a nonce race: the
// account's counter moved past the cached value, or this exact
// transaction was already submitted.
func isNonceConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func bumpPct(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(100+pct))
	return out.Div(out, big.NewInt(100))
}

func formatEther(wei *big.Int) string {
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return ether.Text('f', 6)
}

func formatGwei(gasPrice *big.Int) string {
	if gasPrice == nil {
		return "0"
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9))
	return gwei.Text('f', 2)
}
