package supervisor

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/config"
	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/logging/zaplogging"
)

// Run loads configFile, runs the supervisor until a termination signal arrives or runDuration
// seconds elapse, and shuts it down. bootstrapLogger is used until the configured logger is
// built, and afterwards if building it fails.
func Run(configFile string, runDuration int, bootstrapLogger logging.Logger) error {
	bootstrapLogger = logging.OrNull(bootstrapLogger)
	bootstrapLogger.Infof("Supervisor runner starting...")

	bootstrapLogger.Infof("Platform: OS=%s, Arch=%s, CPUs=%d, Go=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
	bootstrapLogger.Infof("Using CONFIGURATION FILE: %s", configFile)

	cfg, err := config.ValidateConfigFile(configFile)
	if err != nil {
		return err
	}

	logger := bootstrapLogger
	zapLogger, err := zaplogging.New(cfg.Logging)
	if err != nil {
		bootstrapLogger.Errorf("Failed to set up logging, using console output: %v", err)
	} else {
		logger = zapLogger
		defer func() {
			if err := zapLogger.Close(); err != nil {
				bootstrapLogger.Warnf("Failed to close logger: %v", err)
			}
		}()
	}

	summary := config.GetConfigSummary(cfg)
	logger.Infof("Configuration loaded, address: %s, processes: %d, enabled: %d",
		summary.Address, summary.TotalProcesses, summary.EnabledProcesses)

	if runDuration <= 0 {
		runDuration = cfg.Supervisor.RunDuration
	}

	supervisor, err := New(cfg, logger)
	if err != nil {
		return err
	}

	componentCtx := context.Background()
	if err := supervisor.Start(componentCtx); err != nil {
		return err
	}

	operationCtx := componentCtx
	if runDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", runDuration)
		var cancel context.CancelFunc
		operationCtx, cancel = context.WithTimeout(componentCtx, time.Duration(runDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Supervisor runner received signal: %v", receivedSignal)
		supervisor.NotifyShutdown()
	case <-operationCtx.Done():
		logger.Infof("Supervisor runner timed out")
	}

	// background context so the stop grace periods are not cut short
	if err := supervisor.Stop(context.Background()); err != nil {
		logger.Errorf("Supervisor stopped with errors: %v", err)
		return errors.NewProcessError("supervisor shutdown incomplete", err)
	}

	logger.Infof("Supervisor runner stopped")
	return nil
}
