// Package engine coordinates the outbox: it owns the dispatch loop that moves
// queued debriefs to the backend and exposes the operations UI code calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"fieldq/internal/backoff"
	"fieldq/internal/config"
	"fieldq/internal/connectivity"
	"fieldq/internal/delivery"
	"fieldq/internal/logging"
	"fieldq/internal/notify"
	"fieldq/internal/outbox"
	"fieldq/internal/preflight"
)

// ErrAlreadyRunning is returned when Start is called on a running engine.
var ErrAlreadyRunning = errors.New("engine already running")

// ErrInstanceLocked is returned when another process holds the outbox lock.
var ErrInstanceLocked = errors.New("another fieldq instance is already running")

// Engine drives the submission lifecycle for queued debriefs.
type Engine struct {
	cfg     *config.Config
	store   *outbox.Store
	client  delivery.Client
	monitor connectivity.Monitor
	hub     *notify.Hub
	logger  *slog.Logger

	policy         backoff.Policy
	limiter        *rate.Limiter
	pollInterval   time.Duration
	requestTimeout time.Duration
	retention      time.Duration
	maxInFlight    int

	lockPath string
	lock     *flock.Flock

	// wake nudges the dispatch loop out of its idle wait. Buffered so
	// producers never block; a single pending wake covers any number of
	// triggers.
	wake chan struct{}

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	unsubscribeOnline func()
	lastPrune         time.Time
}

// Option configures optional engine behavior.
type Option func(*Engine)

// WithBackoffPolicy overrides the retry policy derived from configuration.
func WithBackoffPolicy(policy backoff.Policy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) { e.pollInterval = interval }
}

// New constructs an engine over the given store, delivery client, and
// connectivity monitor.
func New(
	cfg *config.Config,
	store *outbox.Store,
	client delivery.Client,
	monitor connectivity.Monitor,
	hub *notify.Hub,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	if cfg == nil || store == nil || client == nil || monitor == nil {
		return nil, errors.New("engine requires config, store, delivery client, and connectivity monitor")
	}
	if hub == nil {
		hub = notify.NewHub()
	}

	pollInterval := time.Duration(cfg.Queue.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	requestTimeout := time.Duration(cfg.Delivery.RequestTimeout) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	maxInFlight := cfg.Queue.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	var limiter *rate.Limiter
	if cfg.Queue.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.Queue.RatePerMinute)/60.0), maxInFlight)
	}

	lockPath := cfg.LockPath()

	e := &Engine{
		cfg:            cfg,
		store:          store,
		client:         client,
		monitor:        monitor,
		hub:            hub,
		logger:         logging.NewComponentLogger(logger, "engine"),
		policy:         backoff.FromConfig(cfg.Retry),
		limiter:        limiter,
		pollInterval:   pollInterval,
		requestTimeout: requestTimeout,
		retention:      time.Duration(cfg.Queue.SubmittedRetentionHours) * time.Hour,
		maxInFlight:    maxInFlight,
		lockPath:       lockPath,
		lock:           flock.New(lockPath),
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start acquires the single-instance lock, normalizes items left over from a
// previous run, and launches the dispatch loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	ok, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrInstanceLocked
	}

	if failed := preflight.Failed(preflight.RunAll(e.cfg)); len(failed) > 0 {
		_ = e.lock.Unlock()
		details := make([]string, 0, len(failed))
		for _, result := range failed {
			details = append(details, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
	}

	// An item left submitting means a previous run died mid-attempt. The
	// outcome of that attempt is unknown, so it goes back to pending and
	// gets re-sent.
	reset, err := e.store.ResetStuckSubmitting(ctx)
	if err != nil {
		_ = e.lock.Unlock()
		return fmt.Errorf("reset stuck items: %w", err)
	}
	if reset > 0 {
		e.logger.Info("re-queued items left in flight by previous run",
			logging.String(logging.FieldEventType, "stuck_items_reset"),
			logging.Int64("count", reset),
		)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.lastPrune = time.Now()

	e.unsubscribeOnline = e.monitor.Subscribe(func(online bool) {
		if online {
			e.Wake()
		}
	})

	e.wg.Add(1)
	go e.dispatchLoop(loopCtx)

	e.logger.Info("engine started",
		logging.String(logging.FieldEventType, "engine_started"),
		logging.String("lock", e.lockPath),
		logging.Int("max_in_flight", e.maxInFlight),
	)
	return nil
}

// Stop terminates the dispatch loop, waits for in-flight attempts to settle,
// and releases the instance lock.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	unsubscribe := e.unsubscribeOnline
	e.unsubscribeOnline = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	e.wg.Wait()

	if err := e.lock.Unlock(); err != nil {
		e.logger.Warn("failed to release instance lock", logging.Error(err))
	}
	e.logger.Info("engine stopped",
		logging.String(logging.FieldEventType, "engine_stopped"),
	)
}

// Running reports whether the dispatch loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Online reports the connectivity monitor's current state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Wake nudges the dispatch loop to look for work immediately.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers an observer for queue state changes.
func (e *Engine) Subscribe(fn func(notify.Event)) func() {
	return e.hub.Subscribe(fn)
}
