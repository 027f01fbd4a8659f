package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"fieldq/internal/logging"
)

// NetlinkWatcher listens for kernel udev events on network interfaces and
// kicks the probe monitor when an interface comes or goes. Link flaps get
// detected within a probe timeout instead of waiting for the next scheduled
// probe.
type NetlinkWatcher struct {
	logger *slog.Logger
	kick   func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewNetlinkWatcher creates a watcher that invokes kick on network interface
// events.
func NewNetlinkWatcher(logger *slog.Logger, kick func()) *NetlinkWatcher {
	if kick == nil {
		return nil
	}
	return &NetlinkWatcher{
		logger: logging.NewComponentLogger(logger, "netlink-watcher"),
		kick:   kick,
	}
}

// Start begins listening for udev netlink events. A failed socket connect is
// non-fatal: the probe interval still covers connectivity detection, just
// more slowly.
func (w *NetlinkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; interface changes will be detected by probes only",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the process has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "slower reaction to network changes"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.watchLoop(ctx, quit)

	w.logger.Info("netlink watcher started",
		logging.String(logging.FieldEventType, "netlink_watcher_started"),
	)
	return nil
}

// Stop shuts down the netlink watcher.
func (w *NetlinkWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("netlink watcher stopped",
		logging.String(logging.FieldEventType, "netlink_watcher_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *NetlinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *NetlinkWatcher) watchLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	matcher := buildNetMatcher()

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, matcher)

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.logger.Debug("network interface event",
				logging.String("action", string(uevent.Action)),
				logging.String("interface", uevent.Env["INTERFACE"]),
			)
			w.kick()
		case err := <-errs:
			w.logger.Warn("netlink watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_watcher_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "network change detection may be degraded"),
			)
		}
	}
}

// buildNetMatcher matches add/remove/change events on network interfaces.
func buildNetMatcher() netlink.Matcher {
	action := "add|remove|change|move"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}
