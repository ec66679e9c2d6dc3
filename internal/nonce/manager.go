// Package nonce caches EVM account nonces across chains.
//
// The position lock already serializes operations on the same position, so
// the cache mainly protects concurrent sends on *different* positions from
// the same wallet (two swaps on different tokens racing on the shared
// account counter). A cached value avoids a per-transaction RPC round trip.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainclaw-xyz/chainclaw/internal/metrics"
)

// Fetcher resolves the on-chain pending nonce for an account. The EVM chain
// client satisfies this through a small adapter.
type Fetcher interface {
	PendingNonce(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, chainID uint64, account common.Address) (uint64, error)

func (f FetcherFunc) PendingNonce(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	return f(ctx, chainID, account)
}

// Manager is a per-(chain, address) nonce cache. Constructor-injected and
// shared by every EVM pipeline in the process; internally synchronized.
type Manager struct {
	mu      sync.Mutex
	entries map[string]uint64
	fetcher Fetcher
	logger  *slog.Logger
}

// NewManager creates a Manager backed by the given on-chain fetcher.
func NewManager(fetcher Fetcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		entries: make(map[string]uint64),
		fetcher: fetcher,
		logger:  logger,
	}
}

// GetNonce returns the cached nonce for (chainID, account), fetching and
// caching the on-chain pending transaction count on a miss.
//
// Two sequential calls without an intervening Increment or Reset return the
// same value.
func (m *Manager) GetNonce(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	key := cacheKey(chainID, account)

	m.mu.Lock()
	if n, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	// Fetch outside the mutex: the RPC call can be slow and must not block
	// lookups for other accounts.
	n, err := m.fetcher.PendingNonce(ctx, chainID, account)
	if err != nil {
		return 0, fmt.Errorf("fetch nonce for %s on chain %d: %w", account.Hex(), chainID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent fetch may have landed first; keep the cached value so
	// increments applied meanwhile are not lost.
	if cached, ok := m.entries[key]; ok {
		return cached, nil
	}
	m.entries[key] = n
	return n, nil
}

// Increment bumps the cached nonce by one. Call only after a successful
// broadcast; a failed broadcast must not advance the cache.
// No-op when nothing is cached for the account.
func (m *Manager) Increment(chainID uint64, account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(chainID, account)
	if n, ok := m.entries[key]; ok {
		m.entries[key] = n + 1
	}
}

// Reset drops the cache entry so the next GetNonce refetches on-chain.
// Used for recovery after nonce-related broadcast failures ("nonce too
// low", "already known").
func (m *Manager) Reset(chainID uint64, account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(chainID, account)
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		metrics.NonceResets.Inc()
		m.logger.Warn("nonce cache reset", "chain", chainID, "account", account.Hex())
	}
}

func cacheKey(chainID uint64, account common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(account.Hex()))
}
