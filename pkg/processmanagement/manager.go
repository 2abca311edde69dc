// Package processmanagement owns the table of running workers and every operation that
// starts, stops or inspects them. Status is derived on each query from the registry, the
// launch target on disk and the liveness of the tracked process.
package processmanagement

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	procerrors "github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logcollection"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement/processstatemachine"
	"github.com/core-tools/hsu-procsup/pkg/registry"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultKillWait    = 5 * time.Second
)

type ManagerOptions struct {
	GracePeriod time.Duration // wait after the termination signal before killing
	KillWait    time.Duration // wait for the reap after killing
}

// Observer is notified about lifecycle transitions
type Observer interface {
	ProcessStarted(name string)
	ProcessStopped(name string, outcome StopOutcome)
}

// processRecord links a name to its native handle
type processRecord struct {
	name      string
	cmd       *exec.Cmd
	args      map[string]string
	argv      []string
	startTime time.Time

	done     chan struct{} // closed once Wait returned
	exitErr  error         // valid after done is closed
	exitCode int           // valid after done is closed
}

func (r *processRecord) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// ProcessInfo is a point-in-time view of one configured process
type ProcessInfo struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Enabled   bool              `json:"enabled"`
	Target    string            `json:"target"`
	PID       int               `json:"pid,omitempty"`
	StartTime *time.Time        `json:"start_time,omitempty"`
	Args      map[string]string `json:"args,omitempty"`
	ExitCode  *int              `json:"exit_code,omitempty"`

	LastTransition *processstatemachine.ProcessStateTransition `json:"last_transition,omitempty"`
}

// StartResult describes a freshly launched worker
type StartResult struct {
	PID  int
	Argv []string
}

type Manager struct {
	options  ManagerOptions
	registry *registry.Registry
	launcher Launcher
	logger   logging.Logger

	machines map[string]*processstatemachine.ProcessStateMachine // fixed at construction

	mutex                sync.Mutex
	processes            map[string]*processRecord
	logCollectionService logcollection.LogCollectionService
	observer             Observer
}

func NewManager(reg *registry.Registry, launcher Launcher, options ManagerOptions, logger logging.Logger) *Manager {
	if reg == nil {
		reg = registry.Empty()
	}
	if options.GracePeriod <= 0 {
		options.GracePeriod = DefaultGracePeriod
	}
	if options.KillWait <= 0 {
		options.KillWait = DefaultKillWait
	}
	logger = logging.OrNull(logger)

	machines := make(map[string]*processstatemachine.ProcessStateMachine, reg.Len())
	for _, name := range reg.Names() {
		machines[name] = processstatemachine.NewProcessStateMachine(name, logger)
	}

	return &Manager{
		options:   options,
		registry:  reg,
		launcher:  launcher,
		logger:    logger,
		machines:  machines,
		processes: make(map[string]*processRecord),
	}
}

// SetLogCollectionService routes worker stdout/stderr into the given collector.
// Without one, workers inherit the supervisor's console.
func (m *Manager) SetLogCollectionService(service logcollection.LogCollectionService) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logCollectionService = service
	m.logger.Infof("Log collection service configured for process manager")
}

func (m *Manager) SetObserver(observer Observer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.observer = observer
}

func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

func (m *Manager) GracePeriod() time.Duration {
	return m.options.GracePeriod
}

// Start launches name with its configured parameters merged with overrides
func (m *Manager) Start(ctx context.Context, name string, overrides map[string]string) (StartResult, error) {
	if ctx == nil {
		return StartResult{}, procerrors.NewValidationError("context cannot be nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return StartResult{}, procerrors.NewCancelledError("process start was cancelled", err).WithContext("process", name)
	}

	entry, ok := m.registry.Lookup(name)
	if !ok {
		return StartResult{}, procerrors.NewNotConfiguredError("process not configured", nil).WithContext("process", name)
	}

	machine := m.machines[name]

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if record, exists := m.processes[name]; exists {
		if record.alive() {
			return StartResult{}, procerrors.NewAlreadyRunningError("process already running", nil).
				WithContext("process", name).
				WithContext("pid", record.cmd.Process.Pid)
		}
		if machine.GetCurrentState() == processstatemachine.ProcessStateStopping {
			return StartResult{}, procerrors.NewConflictError("process is being stopped", nil).WithContext("process", name)
		}
		m.dropExited(record)
	}

	args := MergeArgs(entry.LaunchArgs, overrides)
	argv := BuildArgv(args)

	cmd, err := m.launcher.Command(name, argv)
	if err != nil {
		_ = machine.Transition(processstatemachine.ProcessStateFailed, "start", err)
		return StartResult{}, err
	}

	var stdout, stderr io.WriteCloser
	if m.logCollectionService != nil {
		stdout, stderr = m.logCollectionService.Writers(name)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	m.logger.Infof("Starting process, process: %s, command: %v", name, cmd.Args)

	if err := cmd.Start(); err != nil {
		if stdout != nil {
			_ = stdout.Close()
			_ = stderr.Close()
		}
		_ = machine.Transition(processstatemachine.ProcessStateFailed, "start", err)
		return StartResult{}, procerrors.NewProcessError("failed to launch process", err).WithContext("process", name)
	}
	_ = machine.Transition(processstatemachine.ProcessStateRunning, "start", nil)

	record := &processRecord{
		name:      name,
		cmd:       cmd,
		args:      args,
		argv:      argv,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	m.processes[name] = record

	go func() {
		err := cmd.Wait()
		record.exitErr = err
		record.exitCode = -1
		if cmd.ProcessState != nil {
			record.exitCode = cmd.ProcessState.ExitCode()
		}
		if stdout != nil {
			_ = stdout.Close()
			_ = stderr.Close()
		}
		// a stop in progress records its own outcome
		machine.TransitionFrom(processstatemachine.ProcessStateRunning, processstatemachine.ProcessStateExited, "exit", err)
		close(record.done)

		if errors.Is(err, exec.ErrWaitDelay) {
			m.logger.Warnf("Process output not drained within wait delay, process: %s", name)
		}
		m.logger.Infof("Process exited, process: %s, pid: %d, exit_code: %d", name, cmd.Process.Pid, record.exitCode)
	}()

	if m.observer != nil {
		m.observer.ProcessStarted(name)
	}

	m.logger.Infof("Process started, process: %s, pid: %d", name, cmd.Process.Pid)
	return StartResult{PID: cmd.Process.Pid, Argv: argv}, nil
}

// Stop terminates name, escalating to a forced kill after gracePeriod.
// A non-positive gracePeriod uses the manager default.
func (m *Manager) Stop(ctx context.Context, name string, gracePeriod time.Duration) (StopOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if gracePeriod <= 0 {
		gracePeriod = m.options.GracePeriod
	}

	if !m.registry.Contains(name) {
		return StoppedGracefully, procerrors.NewNotConfiguredError("process not configured", nil).WithContext("process", name)
	}

	machine := m.machines[name]

	// Phase 1: claim the record under lock
	m.mutex.Lock()
	record, exists := m.processes[name]
	if exists && machine.GetCurrentState() == processstatemachine.ProcessStateStopping {
		m.mutex.Unlock()
		return StoppedGracefully, procerrors.NewConflictError("process is already stopping", nil).WithContext("process", name)
	}
	if exists && (!record.alive() ||
		!machine.TransitionFrom(processstatemachine.ProcessStateRunning, processstatemachine.ProcessStateStopping, "stop", nil)) {
		m.dropExited(record)
		exists = false
	}
	if !exists {
		m.mutex.Unlock()
		return StoppedGracefully, procerrors.NewNotRunningError("process not running", nil).WithContext("process", name)
	}
	observer := m.observer
	m.mutex.Unlock()

	// Phase 2: terminate outside lock
	outcome, err := m.terminate(ctx, record, gracePeriod)

	// Phase 3: clear the record
	m.mutex.Lock()
	if err != nil {
		machine.TransitionFrom(processstatemachine.ProcessStateStopping, processstatemachine.ProcessStateRunning, "stop", err)
	} else {
		machine.TransitionFrom(processstatemachine.ProcessStateStopping, processstatemachine.ProcessStateStopped, "stop", nil)
		if m.processes[name] == record {
			delete(m.processes, name)
		}
	}
	m.mutex.Unlock()

	if err != nil {
		return outcome, err
	}

	if observer != nil {
		observer.ProcessStopped(name, outcome)
	}
	m.logger.Infof("Process %s, process: %s", outcome, name)
	return outcome, nil
}

// terminate sends the graceful signal, waits, then escalates
func (m *Manager) terminate(ctx context.Context, record *processRecord, gracePeriod time.Duration) (StopOutcome, error) {
	pid := record.cmd.Process.Pid
	m.logger.Infof("Sending termination signal, process: %s, pid: %d, grace_period: %v", record.name, pid, gracePeriod)

	if err := terminateProcess(record.cmd); err != nil {
		if !record.alive() {
			return StoppedGracefully, nil
		}
		return StoppedGracefully, procerrors.NewSignalDeliveryError("failed to send termination signal", err).
			WithContext("process", record.name).
			WithContext("pid", pid)
	}

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()

	select {
	case <-record.done:
		return StoppedGracefully, nil
	case <-timer.C:
		m.logger.Warnf("Process did not terminate within %v, forcing termination, process: %s, pid: %d", gracePeriod, record.name, pid)
	case <-ctx.Done():
		m.logger.Warnf("Context cancelled during graceful termination, forcing termination, process: %s, pid: %d", record.name, pid)
	}

	if err := killProcess(record.cmd); err != nil {
		if !record.alive() {
			return StoppedForcibly, nil
		}
		return StoppedForcibly, procerrors.NewSignalDeliveryError("failed to kill process", err).
			WithContext("process", record.name).
			WithContext("pid", pid)
	}

	killTimer := time.NewTimer(m.options.KillWait)
	defer killTimer.Stop()

	select {
	case <-record.done:
	case <-killTimer.C:
		m.logger.Warnf("Process not reaped within %v after kill, clearing record anyway, process: %s, pid: %d", m.options.KillWait, record.name, pid)
	}
	return StoppedForcibly, nil
}

// StopAll stops every process with a live handle and returns how many were stopped.
// A failure on one process does not prevent attempts on the rest.
func (m *Manager) StopAll(ctx context.Context) (int, error) {
	names := m.runningNames()
	m.logger.Infof("Stopping all processes, running: %d", len(names))

	stopped := 0
	errorCollection := procerrors.NewErrorCollection()
	for _, name := range names {
		if _, err := m.Stop(ctx, name, 0); err != nil {
			if procerrors.IsNotRunningError(err) {
				// exited between the snapshot and the stop
				continue
			}
			m.logger.Errorf("Failed to stop process, process: %s, error: %v", name, err)
			errorCollection.Add(err)
			continue
		}
		stopped++
	}

	if errorCollection.HasErrors() {
		m.logger.Errorf("Some processes failed to stop: %v", errorCollection.Error())
	}
	return stopped, errorCollection.ToError()
}

// StartEnabled starts every process marked enable=true, in registry order
func (m *Manager) StartEnabled(ctx context.Context) ([]string, error) {
	var started []string
	errorCollection := procerrors.NewErrorCollection()
	for _, name := range m.registry.EnabledNames() {
		if _, err := m.Start(ctx, name, nil); err != nil {
			m.logger.Errorf("Failed to start process %s: %v", name, err)
			errorCollection.Add(err)
			continue
		}
		started = append(started, name)
	}
	return started, errorCollection.ToError()
}

// Status derives the current status of name
func (m *Manager) Status(name string) Status {
	entry, ok := m.registry.Lookup(name)
	if !ok {
		return StatusNotConfigured
	}
	if m.isAlive(name) {
		return StatusRunning
	}
	if !entry.Enabled {
		return StatusDisabled
	}
	if !m.launcher.TargetExists(name) {
		return StatusUnavailable
	}
	return StatusStopped
}

// StatusAll returns the status of every configured process
func (m *Manager) StatusAll() map[string]Status {
	statuses := make(map[string]Status, m.registry.Len())
	for _, name := range m.registry.Names() {
		statuses[name] = m.Status(name)
	}
	return statuses
}

// Snapshot returns details for every configured process in registry order
func (m *Manager) Snapshot() []ProcessInfo {
	names := m.registry.Names()
	infos := make([]ProcessInfo, 0, len(names))
	for _, name := range names {
		entry, _ := m.registry.Lookup(name)
		info := ProcessInfo{
			Name:    name,
			Status:  m.Status(name),
			Enabled: entry.Enabled,
			Target:  m.launcher.Target(name),

			LastTransition: m.machines[name].LastTransition(),
		}

		m.mutex.Lock()
		if record, exists := m.processes[name]; exists {
			startTime := record.startTime
			info.StartTime = &startTime
			info.PID = record.cmd.Process.Pid
			info.Args = MergeArgs(record.args, nil)
			if !record.alive() {
				exitCode := record.exitCode
				info.ExitCode = &exitCode
			}
		}
		m.mutex.Unlock()

		infos = append(infos, info)
	}
	return infos
}

// History returns the retained lifecycle transitions of name, oldest first
func (m *Manager) History(name string) ([]processstatemachine.ProcessStateTransition, error) {
	machine, ok := m.machines[name]
	if !ok {
		return nil, procerrors.NewNotConfiguredError("process not configured", nil).WithContext("process", name)
	}
	return machine.GetTransitionHistory(), nil
}

// RunningCount returns how many tracked processes are alive
func (m *Manager) RunningCount() int {
	return len(m.runningNames())
}

// dropExited forgets a record whose process ended. Must be called with the lock held.
func (m *Manager) dropExited(record *processRecord) {
	m.logger.Debugf("Dropping exited record, process: %s, exit_code: %d", record.name, record.exitCode)
	m.machines[record.name].TransitionFrom(processstatemachine.ProcessStateRunning, processstatemachine.ProcessStateExited, "exit", record.exitErr)
	delete(m.processes, record.name)
}

func (m *Manager) isAlive(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, exists := m.processes[name]
	return exists && record.alive()
}

// runningNames returns a snapshot of live names in registry order
func (m *Manager) runningNames() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	order := make(map[string]int)
	for i, name := range m.registry.Names() {
		order[name] = i
	}

	names := make([]string, 0, len(m.processes))
	for name, record := range m.processes {
		if record.alive() {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })
	return names
}
