package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fieldq/internal/config"
	"fieldq/internal/logging"
)

type flakyBackend struct {
	healthy atomic.Bool
}

func (b *flakyBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.healthy.Load() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func newTestMonitor(t *testing.T, url string, threshold int) *ProbeMonitor {
	t.Helper()
	m := NewProbeMonitor(config.Connectivity{
		ProbeURL:         url,
		ProbeInterval:    3600, // probes are driven by Kick in tests
		ProbeTimeout:     1,
		OfflineThreshold: threshold,
	}, logging.NewNop())
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestProbeMonitorStartsOfflineUntilFirstSuccess(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	server := httptest.NewServer(backend)
	defer server.Close()

	m := newTestMonitor(t, server.URL, 2)
	if m.Online() {
		t.Fatal("expected offline before first probe")
	}

	m.Start(context.Background())
	waitFor(t, "online after first successful probe", m.Online)
}

func TestProbeMonitorDebouncesOffline(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	server := httptest.NewServer(backend)
	defer server.Close()

	m := newTestMonitor(t, server.URL, 2)
	m.Start(context.Background())
	waitFor(t, "initial online state", m.Online)

	backend.healthy.Store(false)

	// One failed probe must not flip the state.
	m.Kick()
	waitFor(t, "first failure recorded", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.failures >= 1
	})
	if !m.Online() {
		t.Fatal("single probe failure must not transition to offline")
	}

	// Second consecutive failure reaches the threshold.
	m.Kick()
	waitFor(t, "offline after threshold failures", func() bool { return !m.Online() })
}

func TestProbeMonitorRecoversImmediately(t *testing.T) {
	backend := &flakyBackend{}
	server := httptest.NewServer(backend)
	defer server.Close()

	m := newTestMonitor(t, server.URL, 2)
	m.Start(context.Background())

	// Let the initial failed probe land, then flip the backend healthy.
	waitFor(t, "startup probe", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.failures >= 1
	})

	backend.healthy.Store(true)
	m.Kick()
	waitFor(t, "online after one successful probe", m.Online)
}

func TestProbeMonitorNotifiesSubscribers(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	server := httptest.NewServer(backend)
	defer server.Close()

	m := newTestMonitor(t, server.URL, 1)

	var transitions atomic.Int32
	var lastState atomic.Bool
	unsubscribe := m.Subscribe(func(online bool) {
		transitions.Add(1)
		lastState.Store(online)
	})

	m.Start(context.Background())
	waitFor(t, "online notification", func() bool { return transitions.Load() == 1 })
	if !lastState.Load() {
		t.Fatal("expected online transition")
	}

	backend.healthy.Store(false)
	m.Kick()
	waitFor(t, "offline notification", func() bool { return transitions.Load() == 2 })
	if lastState.Load() {
		t.Fatal("expected offline transition")
	}

	// After unsubscribe no further notifications arrive.
	unsubscribe()
	backend.healthy.Store(true)
	m.Kick()
	waitFor(t, "recovery", m.Online)
	if transitions.Load() != 2 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", transitions.Load())
	}
}

func TestProbeMonitorStartStopIdempotent(t *testing.T) {
	backend := &flakyBackend{}
	server := httptest.NewServer(backend)
	defer server.Close()

	m := newTestMonitor(t, server.URL, 2)
	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // no-op
	m.Stop()
	m.Stop() // no-op
}
