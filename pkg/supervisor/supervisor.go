// Package supervisor is the startup and shutdown driver. It builds every component from a loaded
// configuration, starts the enabled processes, and only then opens the control socket.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/config"
	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/controlserver"
	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logcollection"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/metrics"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"
)

const ShutdownNotice = "NOTICE: supervisor shutting down"

const metricsShutdownTimeout = 5 * time.Second

type Supervisor struct {
	config *config.Config
	logger logging.Logger

	manager       *processmanagement.Manager
	logCollection logcollection.LogCollectionService
	collector     *metrics.Collector
	dispatcher    *control.Dispatcher
	controlServer *controlserver.Server
	metricsServer *metrics.Server
}

// New wires the components described by cfg without starting anything
func New(cfg *config.Config, logger logging.Logger) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	logger = logging.OrNull(logger)

	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, errors.NewValidationError("failed to build process registry", err)
	}

	launcher := &processmanagement.ScriptLauncher{
		Dir:         cfg.Supervisor.ProcessesDir,
		Interpreter: stringOr(cfg.Supervisor.Interpreter, config.DefaultInterpreter),
		Extension:   stringOr(cfg.Supervisor.ScriptExtension, config.DefaultScriptExtension),
		WaitDelay:   cfg.Supervisor.WaitDelay,
	}

	manager := processmanagement.NewManager(reg, launcher, processmanagement.ManagerOptions{
		GracePeriod: cfg.Supervisor.GracePeriod,
		KillWait:    cfg.Supervisor.KillWait,
	}, logger)

	logCollection := logcollection.NewLogCollectionService(logger, 0)
	manager.SetLogCollectionService(logCollection)

	collector := metrics.NewCollector(manager, reg.Len())
	manager.SetObserver(collector)

	dispatcher := control.NewDispatcher(manager, cfg.Supervisor.GracePeriod, logger)
	dispatcher.SetObserver(collector)

	controlServer := controlserver.NewServer(controlserver.ServerOptions{
		Host:            cfg.Network.Host,
		Port:            cfg.Network.Port,
		MaxDatagramSize: cfg.Network.MaxDatagramSize,
	}, dispatcher, logger)

	s := &Supervisor{
		config:        cfg,
		logger:        logger,
		manager:       manager,
		logCollection: logCollection,
		collector:     collector,
		dispatcher:    dispatcher,
		controlServer: controlServer,
	}

	if cfg.Metrics.Enabled {
		s.metricsServer = metrics.NewServer(cfg.Metrics.Address, collector, manager, logger)
		s.metricsServer.SetLogCollectionService(logCollection)
	}

	return s, nil
}

// Start launches the enabled processes and then opens the control socket.
// A bind failure stops whatever was started and is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	started, err := s.manager.StartEnabled(ctx)
	if err != nil {
		// individual start failures are reported by status, not fatal
		s.logger.Warnf("Some enabled processes failed to start: %v", err)
	}
	s.logger.Infof("Started %d enabled processes: %v", len(started), started)
	s.logStatuses()

	if err := s.controlServer.Start(ctx); err != nil {
		s.logger.Errorf("Failed to start control server: %v", err)
		s.stopProcesses(context.Background())
		return err
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Start(ctx); err != nil {
			s.logger.Errorf("Failed to start metrics server: %v", err)
			_ = s.controlServer.Stop()
			s.stopProcesses(context.Background())
			return err
		}
	}

	s.logger.Infof("Supervisor is ready, control address: %s", s.controlServer.Addr())
	return nil
}

// Stop closes the control socket, stops every running process and the metrics server.
// Errors are aggregated.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.logger.Infof("Stopping supervisor...")
	errorCollection := errors.NewErrorCollection()

	if err := s.controlServer.Stop(); err != nil {
		errorCollection.Add(err)
	}
	if err := s.stopProcesses(ctx); err != nil {
		errorCollection.Add(err)
	}
	if s.metricsServer != nil {
		metricsCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		if err := s.metricsServer.Stop(metricsCtx); err != nil {
			errorCollection.Add(err)
		}
		cancel()
	}

	s.logger.Infof("Supervisor stopped")
	return errorCollection.ToError()
}

// NotifyShutdown tells the most recent command sender that the daemon is going away
func (s *Supervisor) NotifyShutdown() {
	if addr := s.controlServer.LastSender(); addr != nil {
		s.logger.Infof("Notifying %s about shutdown", addr)
		s.controlServer.SendTo(addr, ShutdownNotice)
	}
}

func (s *Supervisor) ControlAddr() net.Addr {
	return s.controlServer.Addr()
}

func (s *Supervisor) MetricsAddr() string {
	if s.metricsServer == nil {
		return ""
	}
	return s.metricsServer.Addr()
}

func (s *Supervisor) Manager() *processmanagement.Manager {
	return s.manager
}

func (s *Supervisor) stopProcesses(ctx context.Context) error {
	stopped, err := s.manager.StopAll(ctx)
	s.logger.Infof("Processes stopped: %d", stopped)
	return err
}

func (s *Supervisor) logStatuses() {
	statuses := s.manager.StatusAll()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, statuses[name]))
	}
	s.logger.Infof("Process statuses: %s", strings.Join(parts, ", "))
}

func stringOr(value *string, def string) string {
	if value == nil {
		return def
	}
	return *value
}
