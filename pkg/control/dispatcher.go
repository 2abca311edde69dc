package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"
	"github.com/core-tools/hsu-procsup/pkg/registry"
)

// Lifecycle is the part of the process manager the dispatcher drives
type Lifecycle interface {
	Registry() *registry.Registry
	Start(ctx context.Context, name string, overrides map[string]string) (processmanagement.StartResult, error)
	Stop(ctx context.Context, name string, gracePeriod time.Duration) (processmanagement.StopOutcome, error)
	StopAll(ctx context.Context) (int, error)
	Status(name string) processmanagement.Status
}

// CommandObserver is told about every dispatched command
type CommandObserver interface {
	CommandHandled(verb string, result Result)
}

type Dispatcher struct {
	lifecycle   Lifecycle
	gracePeriod time.Duration
	observer    CommandObserver
	logger      logging.Logger
}

// NewDispatcher creates a dispatcher. A non-positive gracePeriod defers to the lifecycle default.
func NewDispatcher(lifecycle Lifecycle, gracePeriod time.Duration, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		lifecycle:   lifecycle,
		gracePeriod: gracePeriod,
		logger:      logging.OrNull(logger),
	}
}

func (d *Dispatcher) SetObserver(observer CommandObserver) {
	d.observer = observer
}

// Dispatch executes one command line. It always returns a Result; no failure or panic
// escapes it.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (result Result) {
	verb := "invalid"

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Command execution panicked, command: %q, panic: %v", line, r)
			result = Failed(errors.ErrorTypeInternal, fmt.Sprintf("execution error: %v", r))
		}
		if d.observer != nil {
			d.observer.CommandHandled(verb, result)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		d.logger.Warnf("Rejected command %q: %v", line, err)
		return failure(err)
	}
	verb = string(cmd.Verb)

	switch cmd.Verb {
	case VerbStart:
		result = d.handleStart(ctx, cmd)
	case VerbStop:
		result = d.handleStop(ctx, cmd)
	case VerbStatus:
		if cmd.Target == AllProcessesTarget {
			result = d.handleStatusAll()
		} else {
			result = d.handleStatus(cmd)
		}
	case VerbShutdown:
		result = d.handleShutdown(ctx)
	default:
		result = Failed(errors.ErrorTypeProtocol, fmt.Sprintf("unknown command: %s", cmd.Verb))
	}

	if result.Success {
		d.logger.Infof("Command %q succeeded: %s", line, result.Message)
	} else {
		d.logger.Warnf("Command %q failed: %s", line, result.Message)
	}
	return result
}

func (d *Dispatcher) handleStart(ctx context.Context, cmd Command) Result {
	started, err := d.lifecycle.Start(ctx, cmd.Target, cmd.Overrides)
	if err != nil {
		switch {
		case errors.IsNotConfiguredError(err):
			return Failed(errors.ErrorTypeNotConfigured, fmt.Sprintf("process '%s' is not configured", cmd.Target))
		case errors.IsAlreadyRunningError(err):
			return Failed(errors.ErrorTypeAlreadyRunning, fmt.Sprintf("process '%s' is already running", cmd.Target))
		case errors.IsLaunchTargetMissingError(err):
			return Failed(errors.ErrorTypeLaunchTargetMissing, fmt.Sprintf("launch target for process '%s' not found", cmd.Target))
		default:
			return failure(fmt.Errorf("failed to start process '%s': %w", cmd.Target, err))
		}
	}
	return Succeeded(fmt.Sprintf("process '%s' started (pid %d)", cmd.Target, started.PID))
}

func (d *Dispatcher) handleStop(ctx context.Context, cmd Command) Result {
	// Configuration membership is checked before runtime state
	if !d.lifecycle.Registry().Contains(cmd.Target) {
		return Failed(errors.ErrorTypeNotConfigured, fmt.Sprintf("process '%s' is not configured", cmd.Target))
	}

	outcome, err := d.lifecycle.Stop(ctx, cmd.Target, d.gracePeriod)
	if err != nil {
		switch {
		case errors.IsNotRunningError(err):
			return Failed(errors.ErrorTypeNotRunning, fmt.Sprintf("process '%s' is not running", cmd.Target))
		case errors.IsNotConfiguredError(err):
			return Failed(errors.ErrorTypeNotConfigured, fmt.Sprintf("process '%s' is not configured", cmd.Target))
		default:
			return failure(fmt.Errorf("failed to stop process '%s': %w", cmd.Target, err))
		}
	}
	return Succeeded(fmt.Sprintf("process '%s' %s", cmd.Target, outcome))
}

func (d *Dispatcher) handleStatus(cmd Command) Result {
	if !d.lifecycle.Registry().Contains(cmd.Target) {
		return Failed(errors.ErrorTypeNotConfigured, fmt.Sprintf("process '%s' is not configured", cmd.Target))
	}
	return Succeeded(fmt.Sprintf("%s: %s", cmd.Target, d.lifecycle.Status(cmd.Target)))
}

func (d *Dispatcher) handleStatusAll() Result {
	names := d.lifecycle.Registry().Names()
	if len(names) == 0 {
		return Succeeded("no processes configured")
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", name, d.lifecycle.Status(name)))
	}
	return Succeeded(strings.Join(lines, "\n"))
}

func (d *Dispatcher) handleShutdown(ctx context.Context) Result {
	stopped, err := d.lifecycle.StopAll(ctx)
	message := fmt.Sprintf("system shut down, processes stopped: %d", stopped)
	if err != nil {
		d.logger.Errorf("Shutdown incomplete: %v", err)
		message += ", failed to stop: " + strings.Join(failedProcesses(err), ", ")
	}
	return Succeeded(message)
}

// failedProcesses names the processes behind a stopAll error, falling back to the error text
func failedProcesses(err error) []string {
	errs := []error{err}
	var collection *errors.ErrorCollection
	if stderrors.As(err, &collection) {
		errs = collection.Errors()
	}

	names := make([]string, 0, len(errs))
	for _, e := range errs {
		var de *errors.DomainError
		if stderrors.As(e, &de) {
			if name, ok := de.Context["process"].(string); ok {
				names = append(names, name)
				continue
			}
		}
		names = append(names, describe(e))
	}
	return names
}

// failure keeps the category of the outermost domain error and a message without context noise
func failure(err error) Result {
	kind := errors.TypeOf(err)
	if kind == "" {
		kind = errors.ErrorTypeInternal
	}
	return Failed(kind, describe(err))
}

func describe(err error) string {
	var de *errors.DomainError
	if !stderrors.As(err, &de) {
		return err.Error()
	}

	// Replace the rendered domain error with its bare message
	full := err.Error()
	rendered := de.Error()
	bare := de.Message
	if de.Cause != nil {
		bare += ": " + describe(de.Cause)
	}
	return strings.Replace(full, rendered, bare, 1)
}
