package logcollection

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/logging"
)

// DefaultMaxLineLength bounds how much unterminated output is buffered before it is emitted anyway
const DefaultMaxLineLength = 16 * 1024

// ===== MAIN LOG COLLECTION SERVICE =====

type logCollectionService struct {
	logger        logging.Logger
	maxLineLength int

	mu        sync.Mutex
	processes map[string]*processLogCollector

	// Metrics
	totalLines int64 // atomic
	totalBytes int64 // atomic
	startTime  time.Time
}

// processLogCollector keeps counters for one process across all of its runs
type processLogCollector struct {
	processID    string
	openStreams  int
	lines        int64
	bytes        int64
	lastActivity time.Time
}

// NewLogCollectionService creates a collector that re-emits every worker line through logger
func NewLogCollectionService(logger logging.Logger, maxLineLength int) LogCollectionService {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &logCollectionService{
		logger:        logging.OrNull(logger),
		maxLineLength: maxLineLength,
		processes:     make(map[string]*processLogCollector),
		startTime:     time.Now(),
	}
}

func (s *logCollectionService) Writers(processID string) (io.WriteCloser, io.WriteCloser) {
	s.mu.Lock()
	process, exists := s.processes[processID]
	if !exists {
		process = &processLogCollector{processID: processID}
		s.processes[processID] = process
	}
	process.openStreams += 2
	s.mu.Unlock()

	return s.newLineWriter(process, StdoutStream), s.newLineWriter(process, StderrStream)
}

func (s *logCollectionService) newLineWriter(process *processLogCollector, stream StreamType) *lineWriter {
	return &lineWriter{
		service: s,
		process: process,
		logger:  logging.WithFields(s.logger, "process", process.processID, "stream", string(stream)),
	}
}

func (s *logCollectionService) record(process *processLogCollector, n int) {
	atomic.AddInt64(&s.totalLines, 1)
	atomic.AddInt64(&s.totalBytes, int64(n))

	s.mu.Lock()
	process.lines++
	process.bytes += int64(n)
	process.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *logCollectionService) release(process *processLogCollector) {
	s.mu.Lock()
	process.openStreams--
	s.mu.Unlock()
}

func (s *logCollectionService) GetProcessStatus(processID string) (*ProcessLogStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	process, exists := s.processes[processID]
	if !exists {
		return nil, false
	}
	return process.status(), true
}

func (s *logCollectionService) GetSystemStatus() *SystemLogStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &SystemLogStatus{
		TotalProcesses: len(s.processes),
		TotalLines:     atomic.LoadInt64(&s.totalLines),
		TotalBytes:     atomic.LoadInt64(&s.totalBytes),
		StartTime:      s.startTime,
		Processes:      make(map[string]*ProcessLogStatus, len(s.processes)),
	}
	for id, process := range s.processes {
		ps := process.status()
		if ps.Active {
			status.ProcessesActive++
		}
		status.Processes[id] = ps
	}
	return status
}

// status must be called with the service lock held
func (p *processLogCollector) status() *ProcessLogStatus {
	return &ProcessLogStatus{
		ProcessID:      p.processID,
		Active:         p.openStreams > 0,
		LinesProcessed: p.lines,
		BytesProcessed: p.bytes,
		LastActivity:   p.lastActivity,
	}
}

// ===== LINE WRITER =====

// lineWriter splits a byte stream into lines and logs each one
type lineWriter struct {
	service *logCollectionService
	process *processLogCollector
	logger  logging.Logger

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= w.service.maxLineLength {
		w.emit(w.buf[:w.service.maxLineLength])
		w.buf = w.buf[w.service.maxLineLength:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	w.logger.Infof("%s", line)
	w.service.record(w.process, len(line))
}

// Close flushes the unterminated tail, if any
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	w.service.release(w.process)
	return nil
}
