package solana

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/chainclaw-xyz/chainclaw/internal/pipeline"
)

const (
	// DefaultSolUSD is the fallback SOL price when the caller supplies
	// no hint.
	DefaultSolUSD = 150.0

	// fallbackPriorityFee is used when the cluster reports no recent
	// fee samples, in micro-lamports per compute unit.
	fallbackPriorityFee uint64 = 50_000
)

// computeBudgetProgram is the on-chain ComputeBudget program.
var computeBudgetProgram = solanago.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Executor runs Solana requests through the shared pipeline.
type Executor struct {
	driver *pipeline.Driver
	client Client
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates a Solana executor over the given RPC client.
func NewExecutor(driver *pipeline.Driver, client Client, opts ...ExecutorOption) *Executor {
	e := &Executor{
		driver: driver,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives one request through the pipeline and returns its
// normalized result.
func (e *Executor) Execute(ctx context.Context, req Request, signer Signer, meta pipeline.Meta, hooks pipeline.Hooks) pipeline.Result {
	a := &adapter{
		req:    req,
		client: e.client,
		signer: signer,
		logger: e.logger,
	}
	return e.driver.Run(ctx, a, meta, hooks)
}

// adapter carries one request through one pipeline run.
type adapter struct {
	req    Request
	client Client
	signer Signer
	logger *slog.Logger

	tx          *solanago.Transaction
	priorityFee uint64
}

func (a *adapter) Family() pipeline.Family { return pipeline.FamilySolana }
func (a *adapter) ChainID() uint64         { return ChainID }

func (a *adapter) LockTarget() string {
	if a.req.TargetAddress != "" {
		return a.req.TargetAddress
	}
	return a.req.From.String()
}

func (a *adapter) Build(ctx context.Context) error {
	fee, err := a.recentPriorityFee(ctx)
	if err != nil {
		a.logger.Warn("recent fee lookup failed, using fallback", "err", err)
		fee = fallbackPriorityFee
	}
	a.priorityFee = fee

	blockhash, err := a.client.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("latest blockhash: %w", err)
	}

	instrs := make([]solanago.Instruction, 0, len(a.req.Instructions)+1)
	instrs = append(instrs, setComputeUnitPrice(fee))
	instrs = append(instrs, a.req.Instructions...)

	tx, err := solanago.NewTransaction(instrs, blockhash, solanago.TransactionPayer(a.req.From))
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	a.tx = tx
	return nil
}

// recentPriorityFee takes the median of the cluster's recent samples so
// a single spiked slot does not set the price.
func (a *adapter) recentPriorityFee(ctx context.Context) (uint64, error) {
	samples, err := a.client.RecentPrioritizationFees(ctx, []solanago.PublicKey{a.req.From})
	if err != nil {
		return 0, err
	}
	fees := make([]uint64, 0, len(samples))
	for _, s := range samples {
		if s.PrioritizationFee > 0 {
			fees = append(fees, s.PrioritizationFee)
		}
	}
	if len(fees) == 0 {
		return fallbackPriorityFee, nil
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return fees[len(fees)/2], nil
}

func (a *adapter) Simulate(ctx context.Context) (string, error) {
	res, err := a.client.SimulateTransaction(ctx, a.tx)
	if err != nil {
		return "", err
	}
	if res.Err != nil {
		return "", fmt.Errorf("simulation failed: %v%s", res.Err, logTail(res.Logs))
	}
	return a.preview(res.UnitsConsumed), nil
}

func (a *adapter) preview(units uint64) string {
	return fmt.Sprintf("send %d instruction(s) from %s (%d compute units @ %d micro-lamports/unit) ~ %s",
		len(a.req.Instructions),
		a.req.From.String(),
		units,
		a.priorityFee,
		pipeline.FormatUSD(a.EstimatedUSD(0)),
	)
}

func (a *adapter) EstimatedUSD(priceHint float64) float64 {
	price := priceHint
	if price <= 0 {
		price = DefaultSolUSD
	}
	return a.req.EstimatedSolCost * price
}

func (a *adapter) Broadcast(ctx context.Context) (string, error) {
	sig, err := a.signer.SignAndSendTransaction(ctx, a.tx)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// WaitConfirmation returns immediately. Submission already targets a
// confirmed commitment level, so there is no separate receipt to poll.
func (a *adapter) WaitConfirmation(ctx context.Context, hash string) (int64, error) {
	return 0, nil
}

// setComputeUnitPrice builds the ComputeBudget SetComputeUnitPrice
// instruction: discriminator byte 3 followed by the price as a
// little-endian u64.
func setComputeUnitPrice(microLamports uint64) solanago.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solanago.NewInstruction(computeBudgetProgram, solanago.AccountMetaSlice{}, data)
}

// logTail appends the last few simulation log lines to an error message.
func logTail(logs []string) string {
	if len(logs) == 0 {
		return ""
	}
	tail := logs
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	return " (" + strings.Join(tail, "; ") + ")"
}
