package poslock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chainclaw-xyz/chainclaw/internal/metrics"
)

// Mode selects the compatibility class of an acquisition.
type Mode string

const (
	// ModeExclusive excludes all other holders. Used by writers.
	ModeExclusive Mode = "exclusive"
	// ModeShared coexists with other shared holders. Used by readers.
	ModeShared Mode = "shared"
)

const (
	// DefaultAcquireTimeout bounds how long Acquire waits for a grant.
	DefaultAcquireTimeout = 30 * time.Second
	// DefaultTTL is the age past which the sweeper reclaims a held lock.
	DefaultTTL = 2 * time.Minute

	minSweepInterval = 5 * time.Second
)

// Handle is the capability returned by a successful acquisition.
// It is the sole input to Release; callers must not copy it.
type Handle struct {
	Key        string
	Mode       Mode
	AcquiredAt time.Time
	id         uint64
}

// TimeoutError is returned when an acquisition was not granted within its
// deadline. The waiter has been removed from the queue and will never be
// granted.
type TimeoutError struct {
	Key  string
	Mode Mode
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("position lock %q not acquired in %s mode within %s", e.Key, e.Mode, e.Wait)
}

// waiter is a queued acquisition. ready is buffered so the granting
// goroutine never blocks on a waiter that is concurrently timing out.
type waiter struct {
	mode  Mode
	ready chan *Handle
}

// Service is the position-lock store. One instance is owned by the
// application root and injected into every pipeline; there is no
// process-global state.
//
// Thread-safety: all methods are safe for concurrent use. The internal
// mutex is never held across a blocking wait.
type Service struct {
	mu      sync.Mutex
	holders map[string][]*Handle
	waiters map[string][]*waiter
	nextID  uint64

	ttl            time.Duration
	acquireTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	stopSweep chan struct{}
	closeOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the stale-lock TTL used by the background sweep.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithAcquireTimeout sets the default Acquire deadline.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Service) { s.acquireTimeout = d }
}

// WithClock overrides the time source. Tests use this to age locks without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger for sweep warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a lock service and starts its staleness sweeper.
// Call Close to stop the sweeper when the service is no longer needed.
func NewService(opts ...Option) *Service {
	s := &Service{
		holders:        make(map[string][]*Handle),
		waiters:        make(map[string][]*waiter),
		ttl:            DefaultTTL,
		acquireTimeout: DefaultAcquireTimeout,
		now:            time.Now,
		logger:         slog.Default(),
		stopSweep:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweeper. Held locks are unaffected.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.stopSweep) })
}

// Acquire acquires the lock for key in the given mode, waiting up to the
// service's default timeout.
func (s *Service) Acquire(ctx context.Context, key string, mode Mode) (*Handle, error) {
	return s.AcquireTimeout(ctx, key, mode, s.acquireTimeout)
}

// AcquireTimeout acquires the lock for key in the given mode, waiting up to
// timeout for a grant.
//
// Grant rules:
//   - exclusive: granted immediately only when nothing holds the key and no
//     waiter is queued ahead.
//   - shared: granted immediately only when every current holder is shared
//     and no exclusive waiter is queued. A queued exclusive waiter blocks
//     new shared grants even though shared+shared would be compatible;
//     this is the writer-priority rule.
//
// Otherwise the caller joins a FIFO queue. On timeout the waiter is removed
// from the queue, so it can never be granted after the caller gave up, and
// a *TimeoutError is returned.
func (s *Service) AcquireTimeout(ctx context.Context, key string, mode Mode, timeout time.Duration) (*Handle, error) {
	if mode != ModeExclusive && mode != ModeShared {
		return nil, fmt.Errorf("poslock: invalid mode %q", mode)
	}

	s.mu.Lock()
	if s.canGrantLocked(key, mode) {
		h := s.grantLocked(key, mode)
		s.mu.Unlock()
		return h, nil
	}
	w := &waiter{mode: mode, ready: make(chan *Handle, 1)}
	s.waiters[key] = append(s.waiters[key], w)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h := <-w.ready:
		return h, nil
	case <-timer.C:
		s.abandon(key, w)
		return nil, &TimeoutError{Key: key, Mode: mode, Wait: timeout}
	case <-ctx.Done():
		s.abandon(key, w)
		return nil, fmt.Errorf("poslock: acquire %q: %w", key, ctx.Err())
	}
}

// abandon removes a waiter that gave up. If the waiter was granted between
// its deadline firing and the mutex being taken, the grant is taken back
// and released so it is not leaked.
func (s *Service) abandon(key string, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.waiters[key]
	for i, cand := range q {
		if cand == w {
			s.waiters[key] = append(q[:i:i], q[i+1:]...)
			if len(s.waiters[key]) == 0 {
				delete(s.waiters, key)
			}
			return
		}
	}

	select {
	case h := <-w.ready:
		s.releaseLocked(h)
	default:
	}
}

// Release releases a previously acquired handle. It is idempotent: releasing
// an already-released, swept, or unknown handle is a no-op.
func (s *Service) Release(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(h)
}

// CanAcquireNow reports whether an Acquire in the given mode would be
// granted synchronously at this instant. Diagnostic; the answer may be
// stale by the time the caller acts on it.
func (s *Service) CanAcquireNow(key string, mode Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canGrantLocked(key, mode)
}

// IsLocked reports whether key currently has any holder.
func (s *Service) IsLocked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holders[key]) > 0
}

// HeldCount returns the number of currently held handles across all keys.
func (s *Service) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hs := range s.holders {
		n += len(hs)
	}
	return n
}

// Info describes one held handle for diagnostics.
type Info struct {
	Key        string        `json:"key"`
	Mode       Mode          `json:"mode"`
	Age        time.Duration `json:"age"`
	QueueDepth int           `json:"queue_depth"`
}

// Snapshot returns a point-in-time view of all held locks.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Info
	for key, hs := range s.holders {
		for _, h := range hs {
			out = append(out, Info{
				Key:        key,
				Mode:       h.Mode,
				Age:        now.Sub(h.AcquiredAt),
				QueueDepth: len(s.waiters[key]),
			})
		}
	}
	return out
}

// Sweep force-releases every holder older than the TTL and returns the
// number reclaimed. Called periodically by the background sweeper; exported
// for diagnostics and tests.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*Handle
	for _, hs := range s.holders {
		for _, h := range hs {
			if now.Sub(h.AcquiredAt) > s.ttl {
				expired = append(expired, h)
			}
		}
	}
	for _, h := range expired {
		s.logger.Warn("reclaiming stale position lock",
			"key", h.Key, "mode", h.Mode, "age", now.Sub(h.AcquiredAt).String())
		s.releaseLocked(h)
		metrics.StaleLockReclaims.Inc()
	}
	return len(expired)
}

func (s *Service) sweepLoop() {
	interval := s.ttl / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// canGrantLocked implements the immediate-grant rules. Must agree with the
// decision AcquireTimeout makes; CanAcquireNow exposes it directly.
func (s *Service) canGrantLocked(key string, mode Mode) bool {
	holders := s.holders[key]
	if mode == ModeExclusive {
		return len(holders) == 0 && len(s.waiters[key]) == 0
	}
	for _, h := range holders {
		if h.Mode == ModeExclusive {
			return false
		}
	}
	for _, w := range s.waiters[key] {
		if w.mode == ModeExclusive {
			return false
		}
	}
	return true
}

func (s *Service) grantLocked(key string, mode Mode) *Handle {
	s.nextID++
	h := &Handle{Key: key, Mode: mode, AcquiredAt: s.now(), id: s.nextID}
	s.holders[key] = append(s.holders[key], h)
	metrics.LocksHeld.Inc()
	return h
}

func (s *Service) releaseLocked(h *Handle) {
	hs := s.holders[h.Key]
	for i, held := range hs {
		if held.id == h.id {
			s.holders[h.Key] = append(hs[:i:i], hs[i+1:]...)
			if len(s.holders[h.Key]) == 0 {
				delete(s.holders, h.Key)
			}
			metrics.LocksHeld.Dec()
			s.processQueueLocked(h.Key)
			return
		}
	}
}

// processQueueLocked grants queued waiters strictly in FIFO order. Shared
// waiters at the head are granted while compatible; an exclusive grant ends
// the pass so it is never followed by further grants.
func (s *Service) processQueueLocked(key string) {
	for {
		q := s.waiters[key]
		if len(q) == 0 {
			delete(s.waiters, key)
			return
		}
		w := q[0]
		holders := s.holders[key]

		if w.mode == ModeExclusive {
			if len(holders) != 0 {
				return
			}
			s.popWaiterLocked(key)
			w.ready <- s.grantLocked(key, ModeExclusive)
			return
		}

		for _, h := range holders {
			if h.Mode == ModeExclusive {
				return
			}
		}
		s.popWaiterLocked(key)
		w.ready <- s.grantLocked(key, ModeShared)
	}
}

func (s *Service) popWaiterLocked(key string) {
	q := s.waiters[key]
	s.waiters[key] = q[1:]
	if len(s.waiters[key]) == 0 {
		delete(s.waiters, key)
	}
}
