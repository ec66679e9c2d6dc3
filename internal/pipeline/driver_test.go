package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainclaw-xyz/chainclaw/internal/guardrails"
	"github.com/chainclaw-xyz/chainclaw/internal/poslock"
	"github.com/chainclaw-xyz/chainclaw/internal/txlog"
)

// fakeAdapter scripts one pipeline run. A fresh adapter is created per run,
// mirroring how the chain executors use the driver.
type fakeAdapter struct {
	family  Family
	chainID uint64
	target  string
	usd     float64

	buildErr     error
	simErr       error
	preview      string
	broadcastErr error
	hash         string
	confirmErr   error
	block        int64

	onSimulate  func()
	onBroadcast func()
	simPanic    bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		family:  FamilyEVM,
		chainID: 8453,
		target:  "0xPool",
		usd:     50,
		preview: "swap preview",
		hash:    "0xhash",
		block:   123,
	}
}

func (a *fakeAdapter) Family() Family     { return a.family }
func (a *fakeAdapter) ChainID() uint64    { return a.chainID }
func (a *fakeAdapter) LockTarget() string { return a.target }

func (a *fakeAdapter) Build(ctx context.Context) error { return a.buildErr }

func (a *fakeAdapter) Simulate(ctx context.Context) (string, error) {
	if a.simPanic {
		panic("simulator exploded")
	}
	if a.onSimulate != nil {
		a.onSimulate()
	}
	if a.simErr != nil {
		return "", a.simErr
	}
	return a.preview, nil
}

func (a *fakeAdapter) EstimatedUSD(priceHint float64) float64 { return a.usd }

func (a *fakeAdapter) Broadcast(ctx context.Context) (string, error) {
	if a.onBroadcast != nil {
		a.onBroadcast()
	}
	if a.broadcastErr != nil {
		return "", a.broadcastErr
	}
	return a.hash, nil
}

func (a *fakeAdapter) WaitConfirmation(ctx context.Context, hash string) (int64, error) {
	if a.confirmErr != nil {
		return 0, a.confirmErr
	}
	return a.block, nil
}

type fixture struct {
	locks *poslock.Service
	gate  *guardrails.Gate
	log   *txlog.Store
	drv   *Driver
}

func newFixture(t *testing.T, limits guardrails.Limits, opts ...DriverOption) *fixture {
	t.Helper()

	locks := poslock.NewService()
	t.Cleanup(locks.Close)

	store, err := txlog.Open(filepath.Join(t.TempDir(), "txlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gate := guardrails.NewGate(guardrails.Policy{Default: limits})
	return &fixture{
		locks: locks,
		gate:  gate,
		log:   store,
		drv:   NewDriver(locks, gate, store, opts...),
	}
}

func (f *fixture) meta() Meta {
	return Meta{UserID: "user-1", Skill: "swap", Intent: "swap 0.1 ETH for USDC"}
}

func (f *fixture) records(t *testing.T) []txlog.Record {
	t.Helper()
	recs, err := f.log.ListByUser(context.Background(), "user-1", 0)
	require.NoError(t, err)
	return recs
}

func (f *fixture) assertLockFree(t *testing.T, a *fakeAdapter) {
	t.Helper()
	key := poslock.Key("user-1", a.chainID, a.target)
	assert.False(t, f.locks.IsLocked(key), "lock must be released on every exit path")
	assert.True(t, f.locks.CanAcquireNow(key, poslock.ModeExclusive))
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, guardrails.Limits{MaxPerTxUSD: 1000})
	a := newFakeAdapter()

	var events []string
	hooks := Hooks{
		OnSimulated:  func(p string) { events = append(events, "simulated:"+p) },
		OnGuardrails: func(c []guardrails.Check) { events = append(events, "guardrails") },
		OnBroadcast:  func(h string) { events = append(events, "broadcast:"+h) },
		OnConfirmed:  func(h string, b int64) { events = append(events, fmt.Sprintf("confirmed:%s:%d", h, b)) },
		OnFailed:     func(code ErrorCode, msg string) { events = append(events, "failed") },
	}

	res := f.drv.Run(context.Background(), a, f.meta(), hooks)

	require.True(t, res.Success, res.Message)
	assert.Empty(t, res.Code)
	assert.Equal(t, "0xhash", res.Hash)
	assert.Equal(t, int64(123), res.BlockNumber)
	require.NotEmpty(t, res.TxID)

	assert.Equal(t, []string{
		"simulated:swap preview",
		"guardrails",
		"broadcast:0xhash",
		"confirmed:0xhash:123",
	}, events)

	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusConfirmed, rec.Status)
	assert.Equal(t, "0xhash", rec.TxHash)
	assert.Equal(t, int64(123), rec.BlockNumber)
	assert.Equal(t, 50.0, rec.AmountUSD)

	f.assertLockFree(t, a)
}

func TestRun_LockTimeout(t *testing.T) {
	f := newFixture(t, guardrails.Limits{}, WithLockTimeout(50*time.Millisecond))
	a := newFakeAdapter()

	// Hold the position so the run cannot acquire it.
	key := poslock.Key("user-1", a.chainID, a.target)
	held, err := f.locks.Acquire(context.Background(), key, poslock.ModeExclusive)
	require.NoError(t, err)
	defer f.locks.Release(held)

	simulated := false
	a.onSimulate = func() { simulated = true }

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, CodeLockTimeout, res.Code)
	assert.Equal(t, "could not acquire position lock", res.Message)
	assert.False(t, simulated, "no phase may run after a lock timeout")
	assert.Empty(t, f.records(t), "nothing is persisted on lock timeout")
	assert.True(t, f.locks.IsLocked(key), "the holder's lock is untouched")
}

func TestRun_SimulationFailure_NoRecord(t *testing.T) {
	// End-to-end scenario: simulation returns an error; the result is a
	// failure and no record exists for the attempt.
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()
	a.simErr = errors.New("execution reverted: insufficient balance")

	var failedCode ErrorCode
	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnFailed: func(code ErrorCode, msg string) { failedCode = code },
	})

	assert.False(t, res.Success)
	assert.Equal(t, CodeSimulationFailed, res.Code)
	assert.Contains(t, res.Message, "execution reverted")
	assert.Equal(t, CodeSimulationFailed, failedCode)
	assert.Empty(t, res.TxID)
	assert.Empty(t, f.records(t))
	f.assertLockFree(t, a)
}

func TestRun_GuardrailRejected_NoRecord(t *testing.T) {
	f := newFixture(t, guardrails.Limits{MaxPerTxUSD: 100, DailyMaxUSD: 100})
	a := newFakeAdapter()
	a.usd = 10_000

	var seen []guardrails.Check
	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnGuardrails: func(c []guardrails.Check) { seen = c },
	})

	assert.False(t, res.Success)
	assert.Equal(t, CodeGuardrailRejected, res.Code)
	// Both failing checks are aggregated into the message.
	assert.Contains(t, res.Message, "per-transaction limit")
	assert.Contains(t, res.Message, "daily limit")
	assert.NotEmpty(t, seen)
	assert.Empty(t, f.records(t))
	f.assertLockFree(t, a)
}

func TestRun_ConfirmationDeclined_RecordRejected(t *testing.T) {
	// End-to-end scenario: the USD estimate crosses the confirmation
	// threshold and the confirmer declines. The record ends rejected,
	// never approved.
	f := newFixture(t, guardrails.Limits{ConfirmOverUSD: 10})
	a := newFakeAdapter()
	a.usd = 500

	broadcasted := false
	a.onBroadcast = func() { broadcasted = true }

	var askedUSD float64
	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnConfirmationRequired: func(ctx context.Context, preview string, usd float64) (bool, error) {
			askedUSD = usd
			return false, nil
		},
	})

	assert.False(t, res.Success)
	assert.Equal(t, CodeUserDeclined, res.Code)
	assert.Contains(t, res.Message, "cancelled")
	assert.Equal(t, 500.0, askedUSD)
	assert.False(t, broadcasted)

	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusRejected, rec.Status)
	f.assertLockFree(t, a)
}

func TestRun_ConfirmationRequired_NoConfirmer_FailsClosed(t *testing.T) {
	f := newFixture(t, guardrails.Limits{ConfirmOverUSD: 10})
	a := newFakeAdapter()
	a.usd = 500

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, CodeUserDeclined, res.Code)

	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusRejected, rec.Status)
}

func TestRun_ConfirmationError(t *testing.T) {
	f := newFixture(t, guardrails.Limits{ConfirmOverUSD: 10})
	a := newFakeAdapter()
	a.usd = 500

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnConfirmationRequired: func(ctx context.Context, preview string, usd float64) (bool, error) {
			return false, errors.New("gateway timeout")
		},
	})

	assert.Equal(t, CodeConfirmationTimeout, res.Code)
	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusRejected, rec.Status)
	f.assertLockFree(t, a)
}

func TestRun_BroadcastFailure(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()
	a.broadcastErr = errors.New("nonce too low")

	var failedCode ErrorCode
	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnFailed: func(code ErrorCode, msg string) { failedCode = code },
	})

	assert.Equal(t, CodeBroadcastFailed, res.Code)
	assert.Equal(t, CodeBroadcastFailed, failedCode)

	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "nonce too low")
	f.assertLockFree(t, a)
}

func TestRun_ConfirmationWaitFailure(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()
	a.confirmErr = errors.New("receipt not found after deadline")

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{})

	assert.Equal(t, CodeConfirmationTimeout, res.Code)
	assert.Equal(t, "0xhash", res.Hash, "the broadcast hash is surfaced even when confirmation fails")

	rec, err := f.log.GetByID(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, txlog.StatusFailed, rec.Status)
	assert.Equal(t, "0xhash", rec.TxHash)
	f.assertLockFree(t, a)
}

func TestRun_BuildFailure(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()
	a.buildErr = errors.New("blockhash fetch failed")

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{})

	assert.Equal(t, CodeUnknown, res.Code)
	assert.Empty(t, f.records(t))
	f.assertLockFree(t, a)
}

type erroringLog struct{}

func (erroringLog) Create(ctx context.Context, p txlog.CreateParams) (string, error) {
	return "", errors.New("disk full")
}

func (erroringLog) UpdateStatus(ctx context.Context, id string, status txlog.Status, extra *txlog.StatusExtra) error {
	return errors.New("disk full")
}

func TestRun_PersistFailure(t *testing.T) {
	locks := poslock.NewService()
	t.Cleanup(locks.Close)
	drv := NewDriver(locks, guardrails.NewDefaultGate(), erroringLog{})
	a := newFakeAdapter()

	res := drv.Run(context.Background(), a, Meta{UserID: "user-1"}, Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, CodeUnknown, res.Code)
	assert.Contains(t, res.Message, "disk full")
	assert.False(t, locks.IsLocked(poslock.Key("user-1", a.chainID, a.target)))
}

func TestRun_AdapterPanicRecovered(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()
	a.simPanic = true

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, CodeUnknown, res.Code)
	assert.Contains(t, res.Message, "simulator exploded")
	f.assertLockFree(t, a)
}

func TestRun_HookPanicContained(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})
	a := newFakeAdapter()

	res := f.drv.Run(context.Background(), a, f.meta(), Hooks{
		OnSimulated: func(p string) { panic("observer bug") },
	})

	require.True(t, res.Success, "a panicking observer hook must not abort the pipeline")
}

func TestRun_RecordTxSentFeedsGuardrails(t *testing.T) {
	f := newFixture(t, guardrails.Limits{DailyMaxTxCount: 1})

	res1 := f.drv.Run(context.Background(), newFakeAdapter(), f.meta(), Hooks{})
	require.True(t, res1.Success)

	res2 := f.drv.Run(context.Background(), newFakeAdapter(), f.meta(), Hooks{})
	assert.Equal(t, CodeGuardrailRejected, res2.Code, "the confirmed send must count against the daily limit")
}

func TestRun_ConcurrentSamePosition_Serialized(t *testing.T) {
	// End-to-end scenario: two concurrent runs on the same lock key. The
	// second must not start its simulate phase until the first has
	// released its lock.
	f := newFixture(t, guardrails.Limits{})

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	firstInBroadcast := make(chan struct{})
	releaseFirst := make(chan struct{})

	a1 := newFakeAdapter()
	a1.onSimulate = func() { record("first:simulate") }
	a1.onBroadcast = func() {
		close(firstInBroadcast)
		<-releaseFirst
		record("first:broadcast")
	}

	a2 := newFakeAdapter()
	a2.onSimulate = func() { record("second:simulate") }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res := f.drv.Run(context.Background(), a1, f.meta(), Hooks{})
		record("first:done")
		assert.True(t, res.Success)
	}()

	<-firstInBroadcast
	go func() {
		defer wg.Done()
		res := f.drv.Run(context.Background(), a2, f.meta(), Hooks{})
		record("second:done")
		assert.True(t, res.Success)
	}()

	// Give the second run time to (incorrectly) reach simulate if the lock
	// were not held.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.NotContains(t, events, "second:simulate", "second run must wait for the first run's lock")
	mu.Unlock()

	close(releaseFirst)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	idx := func(e string) int {
		for i, got := range events {
			if got == e {
				return i
			}
		}
		t.Fatalf("event %q not recorded (events: %v)", e, events)
		return -1
	}
	assert.Less(t, idx("first:simulate"), idx("first:broadcast"))
	assert.Less(t, idx("first:broadcast"), idx("second:simulate"),
		"second run simulated before the first run finished broadcasting")
	assert.Less(t, idx("second:simulate"), idx("second:done"))
}

func TestRun_DifferentPositions_Concurrent(t *testing.T) {
	f := newFixture(t, guardrails.Limits{})

	blocked := make(chan struct{})
	a1 := newFakeAdapter()
	a1.target = "0xTokenA"
	a1.onBroadcast = func() { <-blocked }

	done := make(chan Result, 1)
	go func() {
		done <- f.drv.Run(context.Background(), a1, f.meta(), Hooks{})
	}()

	// A run on a different token for the same user proceeds while the
	// first is still in flight.
	a2 := newFakeAdapter()
	a2.target = "0xTokenB"
	res2 := f.drv.Run(context.Background(), a2, f.meta(), Hooks{})
	assert.True(t, res2.Success)

	close(blocked)
	res1 := <-done
	assert.True(t, res1.Success)
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$1,234.50", FormatUSD(1234.5))
	assert.Equal(t, "$0.00", FormatUSD(0))
	assert.Equal(t, "$2,500.00", FormatUSD(2500))
	assert.Equal(t, "$12.34", FormatUSD(12.3449))
}
