package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logcollection"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement/processstatemachine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProcessLister provides a point in time view of the process table
type ProcessLister interface {
	Snapshot() []processmanagement.ProcessInfo
	History(name string) ([]processstatemachine.ProcessStateTransition, error)
}

type HealthResponse struct {
	Status  string `json:"status"`
	Running int    `json:"running"`
	Total   int    `json:"total"`
	Uptime  string `json:"uptime"`
}

type ProcessesResponse struct {
	Processes []processmanagement.ProcessInfo `json:"processes"`
}

type ProcessResponse struct {
	processmanagement.ProcessInfo
	Logs *logcollection.ProcessLogStatus `json:"logs,omitempty"`
}

type HistoryResponse struct {
	Name        string                                       `json:"name"`
	Transitions []processstatemachine.ProcessStateTransition `json:"transitions"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Context map[string]string `json:"context,omitempty"`
}

// Server is the HTTP endpoint for metrics scraping and read-only process inspection
type Server struct {
	address   string
	collector *Collector
	processes ProcessLister
	logs      logcollection.LogCollectionService
	logger    logging.Logger

	listener  net.Listener
	server    *http.Server
	startTime time.Time
}

func NewServer(address string, collector *Collector, processes ProcessLister, logger logging.Logger) *Server {
	s := &Server{
		address:   address,
		collector: collector,
		processes: processes,
		logger:    logging.OrNull(logger),
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// SetLogCollectionService adds per process output counters to the process endpoints
func (s *Server) SetLogCollectionService(service logcollection.LogCollectionService) {
	s.logs = service
}

// Router builds the request router
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/processes", s.handleListProcesses).Methods(http.MethodGet)
	api.HandleFunc("/processes/{name}", s.handleGetProcess).Methods(http.MethodGet)
	api.HandleFunc("/processes/{name}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "not found", nil)
	})
	return r
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.NewBindError("failed to bind metrics listener", err).WithContext("address", s.address)
	}
	s.listener = listener

	s.logger.Infof("Starting metrics server on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	s.logger.Infof("Stopping metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewNetworkError("metrics server shutdown failed", err)
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.processes.Snapshot()
	running := 0
	for _, info := range snapshot {
		if info.Status == processmanagement.StatusRunning {
			running++
		}
	}

	s.sendSuccess(w, HealthResponse{
		Status:  "healthy",
		Running: running,
		Total:   len(snapshot),
		Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, ProcessesResponse{Processes: s.processes.Snapshot()})
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	for _, info := range s.processes.Snapshot() {
		if info.Name != name {
			continue
		}
		response := ProcessResponse{ProcessInfo: info}
		if s.logs != nil {
			if status, ok := s.logs.GetProcessStatus(name); ok {
				response.Logs = status
			}
		}
		s.sendSuccess(w, response)
		return
	}

	s.sendErrorFromDomainError(w, errors.NewNotConfiguredError("process not configured", nil).WithContext("process", name))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	transitions, err := s.processes.History(name)
	if err != nil {
		s.sendErrorFromDomainError(w, err)
		return
	}
	s.sendSuccess(w, HistoryResponse{Name: name, Transitions: transitions})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		s.sendError(w, http.StatusNotFound, "log collection disabled", nil)
		return
	}
	s.sendSuccess(w, s.logs.GetSystemStatus())
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error:   message,
	}
	if err != nil {
		response.Context = map[string]string{"details": err.Error()}
	}

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		s.logger.Errorf("Failed to encode error response: %v", encErr)
	}

	s.logger.Debugf("Request error: %s (status: %d)", message, statusCode)
}

func (s *Server) sendErrorFromDomainError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.IsNotConfiguredError(err), errors.IsNotFoundError(err):
		statusCode = http.StatusNotFound
		message = "not found"
	case errors.IsValidationError(err):
		statusCode = http.StatusBadRequest
		message = "validation error"
	}

	s.sendError(w, statusCode, message, err)
}
