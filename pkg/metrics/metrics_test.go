package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logcollection"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement/processstatemachine"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	infos []processmanagement.ProcessInfo
}

func (f *fakeTable) Snapshot() []processmanagement.ProcessInfo {
	return f.infos
}

func (f *fakeTable) History(name string) ([]processstatemachine.ProcessStateTransition, error) {
	for _, info := range f.infos {
		if info.Name == name && info.LastTransition != nil {
			return []processstatemachine.ProcessStateTransition{*info.LastTransition}, nil
		} else if info.Name == name {
			return []processstatemachine.ProcessStateTransition{}, nil
		}
	}
	return nil, errors.NewNotConfiguredError("process not configured", nil).WithContext("process", name)
}

func (f *fakeTable) RunningCount() int {
	n := 0
	for _, info := range f.infos {
		if info.Status == processmanagement.StatusRunning {
			n++
		}
	}
	return n
}

func newFakeTable() *fakeTable {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeTable{infos: []processmanagement.ProcessInfo{
		{Name: "adc", Status: processmanagement.StatusRunning, Enabled: true, Target: "processes/adc.py", PID: 4242, StartTime: &started,
			LastTransition: &processstatemachine.ProcessStateTransition{
				From: processstatemachine.ProcessStateIdle, To: processstatemachine.ProcessStateRunning, Operation: "start", Timestamp: started,
			}},
		{Name: "fft", Status: processmanagement.StatusDisabled, Target: "processes/fft.py"},
	}}
}

func TestCollector_CountsEvents(t *testing.T) {
	table := newFakeTable()
	c := NewCollector(table, 2)

	c.ProcessStarted("adc")
	c.ProcessStarted("adc")
	c.ProcessStopped("adc", processmanagement.StoppedForcibly)
	c.CommandHandled("start", control.Succeeded("ok"))
	c.CommandHandled("start", control.Failed(errors.ErrorTypeAlreadyRunning, "nope"))
	c.CommandHandled("invalid", control.Failed(errors.ErrorTypeProtocol, "empty command"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.startsTotal.WithLabelValues("adc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stopsTotal.WithLabelValues("adc", "forced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stopsTotal.WithLabelValues("adc", "graceful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("start", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("start", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("invalid", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runningGauge))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.configuredSize))
}

func TestCollector_NilRunningCounter(t *testing.T) {
	c := NewCollector(nil, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runningGauge))
}

func newTestServer(t *testing.T) (*Server, *fakeTable) {
	t.Helper()
	table := newFakeTable()
	s := NewServer("127.0.0.1:0", NewCollector(table, len(table.infos)), table, nil)
	return s, table
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	s.collector.ProcessStarted("adc")

	rec := get(t, s.Router(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `procsup_process_starts_total{process="adc"} 1`)
	assert.Contains(t, body, "procsup_processes_running 1")
	assert.Contains(t, body, "procsup_processes_configured 2")
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Router(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Running)
	assert.Equal(t, 2, health.Total)
}

func TestServer_ListProcesses(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Router(), "/api/v1/processes")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Processes []map[string]interface{} `json:"processes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Processes, 2)
	assert.Equal(t, "adc", response.Processes[0]["name"])
	assert.Equal(t, "Running", response.Processes[0]["status"])
	assert.Equal(t, 4242.0, response.Processes[0]["pid"])
	assert.Equal(t, "Disabled", response.Processes[1]["status"])
	assert.NotContains(t, response.Processes[1], "pid")
}

func TestServer_GetProcess(t *testing.T) {
	s, _ := newTestServer(t)
	logs := logcollection.NewLogCollectionService(logging.NewNullLogger(), 0)
	s.SetLogCollectionService(logs)

	stdout, stderr := logs.Writers("adc")
	_, err := io.WriteString(stdout, "sampling at 48000\n")
	require.NoError(t, err)
	require.NoError(t, stdout.Close())
	require.NoError(t, stderr.Close())

	rec := get(t, s.Router(), "/api/v1/processes/adc")
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "adc", response["name"])
	require.Contains(t, response, "logs")
	assert.Equal(t, 1.0, response["logs"].(map[string]interface{})["lines_processed"])

	rec = get(t, s.Router(), "/api/v1/processes/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghost")
}

func TestServer_History(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Router(), "/api/v1/processes/adc/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var response HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "adc", response.Name)
	require.Len(t, response.Transitions, 1)
	assert.Equal(t, processstatemachine.ProcessStateRunning, response.Transitions[0].To)

	rec = get(t, s.Router(), "/api/v1/processes/ghost/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Logs(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Router(), "/api/v1/logs")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.SetLogCollectionService(logcollection.NewLogCollectionService(nil, 0))
	rec = get(t, s.Router(), "/api/v1/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_lines_processed")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/processes", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = get(t, s.Router(), "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))

	// a second server cannot take the port while the first is bound
	first, _ := newTestServer(t)
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewServer(first.Addr(), NewCollector(nil, 0), &fakeTable{}, nil)
	err = second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsBindError(err))
}
