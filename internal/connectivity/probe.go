package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fieldq/internal/config"
	"fieldq/internal/logging"
)

// ProbeMonitor determines connectivity by issuing lightweight HTTP probes on
// an interval. Transitions are debounced: a single failed probe never flips
// the state to offline, only a run of consecutive failures does. Recovery is
// immediate because one successful probe proves the path works.
type ProbeMonitor struct {
	probeURL  string
	interval  time.Duration
	timeout   time.Duration
	threshold int
	client    *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	online      bool
	failures    int
	subscribers map[int]func(bool)
	nextSubID   int
	cancel      context.CancelFunc
	running     bool
	probeNow    chan struct{}
	wg          sync.WaitGroup
}

// NewProbeMonitor builds a monitor from the connectivity configuration
// section. The monitor starts pessimistic: it reports offline until the
// first probe succeeds.
func NewProbeMonitor(cfg config.Connectivity, logger *slog.Logger) *ProbeMonitor {
	interval := time.Duration(cfg.ProbeInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := time.Duration(cfg.ProbeTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	threshold := cfg.OfflineThreshold
	if threshold < 1 {
		threshold = 2
	}

	return &ProbeMonitor{
		probeURL:    cfg.ProbeURL,
		interval:    interval,
		timeout:     timeout,
		threshold:   threshold,
		client:      &http.Client{Timeout: timeout},
		logger:      logging.NewComponentLogger(logger, "connectivity"),
		subscribers: make(map[int]func(bool)),
		probeNow:    make(chan struct{}, 1),
	}
}

// Start launches the probe loop. Calling Start on a running monitor is a
// no-op.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.probeLoop(loopCtx)
}

// Stop terminates the probe loop and waits for it to exit.
func (m *ProbeMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Online reports the last observed connectivity state.
func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback. Callbacks run synchronously on
// the probe goroutine, so they must not block.
func (m *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Kick requests an immediate probe outside the regular interval. Used when a
// network interface change hints that connectivity may have shifted.
func (m *ProbeMonitor) Kick() {
	select {
	case m.probeNow <- struct{}{}:
	default:
	}
}

func (m *ProbeMonitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	// First probe runs immediately so startup state settles fast.
	m.recordProbe(m.probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recordProbe(m.probe(ctx))
		case <-m.probeNow:
			m.recordProbe(m.probe(ctx))
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

func (m *ProbeMonitor) recordProbe(success bool) {
	m.mu.Lock()

	var transitioned bool
	var nowOnline bool

	if success {
		m.failures = 0
		if !m.online {
			m.online = true
			transitioned = true
			nowOnline = true
		}
	} else {
		m.failures++
		if m.online && m.failures >= m.threshold {
			m.online = false
			transitioned = true
			nowOnline = false
		}
	}

	var callbacks []func(bool)
	if transitioned {
		callbacks = make([]func(bool), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			callbacks = append(callbacks, fn)
		}
	}
	m.mu.Unlock()

	if !transitioned {
		return
	}

	m.logger.Info("connectivity changed",
		logging.String(logging.FieldEventType, "connectivity_changed"),
		logging.Bool("online", nowOnline),
	)
	for _, fn := range callbacks {
		fn(nowOnline)
	}
}

var _ Monitor = (*ProbeMonitor)(nil)
