package control

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"
	"github.com/core-tools/hsu-procsup/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLifecycle struct {
	mock.Mock
	registry *registry.Registry
}

func (m *mockLifecycle) Registry() *registry.Registry {
	return m.registry
}

func (m *mockLifecycle) Start(ctx context.Context, name string, overrides map[string]string) (processmanagement.StartResult, error) {
	args := m.Called(name, overrides)
	return args.Get(0).(processmanagement.StartResult), args.Error(1)
}

func (m *mockLifecycle) Stop(ctx context.Context, name string, gracePeriod time.Duration) (processmanagement.StopOutcome, error) {
	args := m.Called(name, gracePeriod)
	return args.Get(0).(processmanagement.StopOutcome), args.Error(1)
}

func (m *mockLifecycle) StopAll(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *mockLifecycle) Status(name string) processmanagement.Status {
	args := m.Called(name)
	return args.Get(0).(processmanagement.Status)
}

type recordingCommandObserver struct {
	verbs   []string
	results []Result
}

func (o *recordingCommandObserver) CommandHandled(verb string, result Result) {
	o.verbs = append(o.verbs, verb)
	o.results = append(o.results, result)
}

func newMockLifecycle(t *testing.T, names ...string) *mockLifecycle {
	entries := make([]registry.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, registry.Entry{Name: name})
	}
	reg, err := registry.New(entries)
	require.NoError(t, err)
	return &mockLifecycle{registry: reg}
}

func TestDispatch_Start(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc")
	lifecycle.On("Start", "adc", map[string]string{"rate": "96000"}).
		Return(processmanagement.StartResult{PID: 4242}, nil).Once()
	lifecycle.On("Start", "adc", map[string]string{}).
		Return(processmanagement.StartResult{}, errors.NewAlreadyRunningError("process already running", nil)).Once()
	lifecycle.On("Start", "ghost", map[string]string{}).
		Return(processmanagement.StartResult{}, errors.NewNotConfiguredError("process not configured", nil)).Once()

	d := NewDispatcher(lifecycle, 0, nil)

	result := d.Dispatch(context.Background(), "start adc --rate 96000")
	assert.True(t, result.Success)
	assert.Equal(t, "process 'adc' started (pid 4242)", result.Message)

	result = d.Dispatch(context.Background(), "start adc")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeAlreadyRunning, result.Kind)

	result = d.Dispatch(context.Background(), "start ghost")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeNotConfigured, result.Kind)
	assert.Equal(t, "ERROR: process 'ghost' is not configured", result.String())

	lifecycle.AssertExpectations(t)
}

func TestDispatch_StartLaunchFailureKeepsCause(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc")
	lifecycle.On("Start", "adc", map[string]string{}).
		Return(processmanagement.StartResult{}, errors.NewProcessError("failed to launch process", fmt.Errorf("permission denied")).WithContext("process", "adc"))

	result := NewDispatcher(lifecycle, 0, nil).Dispatch(context.Background(), "start adc")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeProcess, result.Kind)
	assert.Equal(t, "failed to start process 'adc': failed to launch process: permission denied", result.Message)
}

func TestDispatch_Stop(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc", "fft")
	grace := 2 * time.Second
	lifecycle.On("Stop", "adc", grace).Return(processmanagement.StoppedForcibly, nil).Once()
	lifecycle.On("Stop", "fft", grace).
		Return(processmanagement.StoppedGracefully, errors.NewNotRunningError("process not running", nil)).Once()

	d := NewDispatcher(lifecycle, grace, nil)

	result := d.Dispatch(context.Background(), "stop adc")
	assert.True(t, result.Success)
	assert.Equal(t, "process 'adc' stopped forcibly", result.Message)

	result = d.Dispatch(context.Background(), "stop fft")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeNotRunning, result.Kind)

	// membership is checked before runtime state
	result = d.Dispatch(context.Background(), "stop ghost")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeNotConfigured, result.Kind)

	lifecycle.AssertExpectations(t)
	lifecycle.AssertNotCalled(t, "Stop", "ghost", grace)
}

func TestDispatch_StopSignalFailure(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc")
	lifecycle.On("Stop", "adc", time.Duration(0)).
		Return(processmanagement.StoppedGracefully, errors.NewSignalDeliveryError("failed to send termination signal", fmt.Errorf("operation not permitted")))

	result := NewDispatcher(lifecycle, 0, nil).Dispatch(context.Background(), "stop adc")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeSignalDelivery, result.Kind)
	assert.Contains(t, result.Message, "operation not permitted")
}

func TestDispatch_Status(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc", "fft")
	lifecycle.On("Status", "adc").Return(processmanagement.StatusRunning)
	lifecycle.On("Status", "fft").Return(processmanagement.StatusDisabled)

	d := NewDispatcher(lifecycle, 0, nil)

	result := d.Dispatch(context.Background(), "status adc")
	assert.Equal(t, Succeeded("adc: Running"), result)

	result = d.Dispatch(context.Background(), "status processes")
	assert.Equal(t, Succeeded("adc: Running\nfft: Disabled"), result)

	result = d.Dispatch(context.Background(), "status ghost")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeNotConfigured, result.Kind)
}

func TestDispatch_StatusEmptyRegistry(t *testing.T) {
	d := NewDispatcher(newMockLifecycle(t), 0, nil)

	result := d.Dispatch(context.Background(), "status processes")
	assert.True(t, result.Success)
	assert.Equal(t, "no processes configured", result.Message)
}

func TestDispatch_Shutdown(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc")
	lifecycle.On("StopAll").Return(2, nil).Once()
	lifecycle.On("StopAll").Return(1, errors.NewSignalDeliveryError("failed to kill process", nil).WithContext("process", "fft")).Once()
	collection := errors.NewErrorCollection()
	collection.Add(errors.NewSignalDeliveryError("failed to kill process", nil).WithContext("process", "adc"))
	collection.Add(errors.NewSignalDeliveryError("failed to kill process", nil).WithContext("process", "fft"))
	lifecycle.On("StopAll").Return(0, collection.ToError()).Once()

	d := NewDispatcher(lifecycle, 0, nil)

	result := d.Dispatch(context.Background(), "shutdown")
	assert.True(t, result.Success)
	assert.Equal(t, "system shut down, processes stopped: 2", result.Message)

	// a partial shutdown still succeeds and names what could not be stopped
	result = d.Dispatch(context.Background(), "shutdown")
	assert.True(t, result.Success)
	assert.Equal(t, "system shut down, processes stopped: 1, failed to stop: fft", result.Message)

	result = d.Dispatch(context.Background(), "shutdown")
	assert.True(t, result.Success)
	assert.Equal(t, "system shut down, processes stopped: 0, failed to stop: adc, fft", result.Message)
}

func TestDispatch_Malformed(t *testing.T) {
	observer := &recordingCommandObserver{}
	d := NewDispatcher(newMockLifecycle(t, "adc"), 0, nil)
	d.SetObserver(observer)

	result := d.Dispatch(context.Background(), "launch adc")
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeProtocol, result.Kind)
	assert.Equal(t, "unknown command: launch", result.Message)

	result = d.Dispatch(context.Background(), "")
	assert.False(t, result.Success)
	assert.Equal(t, "empty command", result.Message)

	assert.Equal(t, []string{"invalid", "invalid"}, observer.verbs)
}

func TestDispatch_RecoversPanics(t *testing.T) {
	lifecycle := newMockLifecycle(t, "adc")
	lifecycle.On("Status", "adc").Run(func(args mock.Arguments) {
		panic("table corrupted")
	}).Return(processmanagement.StatusRunning)

	observer := &recordingCommandObserver{}
	d := NewDispatcher(lifecycle, 0, nil)
	d.SetObserver(observer)

	var result Result
	require.NotPanics(t, func() {
		result = d.Dispatch(context.Background(), "status adc")
	})
	assert.False(t, result.Success)
	assert.Equal(t, errors.ErrorTypeInternal, result.Kind)
	assert.Equal(t, "execution error: table corrupted", result.Message)
	assert.Equal(t, []string{"status"}, observer.verbs)
}
