package connectivity

import (
	"context"
	"log/slog"

	"fieldq/internal/config"
)

// Service bundles the probe monitor with the optional netlink watcher so
// callers manage one lifecycle. The watcher only accelerates detection; the
// probe loop alone is a complete monitor.
type Service struct {
	*ProbeMonitor
	watcher *NetlinkWatcher
}

// NewService builds the connectivity stack from configuration.
func NewService(cfg config.Connectivity, logger *slog.Logger) *Service {
	probe := NewProbeMonitor(cfg, logger)
	svc := &Service{ProbeMonitor: probe}
	if cfg.NetlinkEnabled {
		svc.watcher = NewNetlinkWatcher(logger, probe.Kick)
	}
	return svc
}

// Start launches the probe loop and, when enabled, the netlink watcher.
func (s *Service) Start(ctx context.Context) {
	s.ProbeMonitor.Start(ctx)
	_ = s.watcher.Start(ctx)
}

// Stop shuts both down.
func (s *Service) Stop() {
	s.watcher.Stop()
	s.ProbeMonitor.Stop()
}

var _ Monitor = (*Service)(nil)
