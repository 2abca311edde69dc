package logcollection

import (
	"io"
	"time"
)

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// LogCollectionService turns worker output streams into supervisor log lines
type LogCollectionService interface {
	// Writers returns the stdout and stderr sinks for one run of processID.
	// Closing a writer flushes any unterminated last line.
	Writers(processID string) (stdout io.WriteCloser, stderr io.WriteCloser)

	GetProcessStatus(processID string) (*ProcessLogStatus, bool)
	GetSystemStatus() *SystemLogStatus
}

// ProcessLogStatus provides status information for a specific process
type ProcessLogStatus struct {
	ProcessID      string    `json:"process_id"`
	Active         bool      `json:"active"`
	LinesProcessed int64     `json:"lines_processed"`
	BytesProcessed int64     `json:"bytes_processed"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
}

// SystemLogStatus provides overall log collection status
type SystemLogStatus struct {
	ProcessesActive int                          `json:"processes_active"`
	TotalProcesses  int                          `json:"total_processes"`
	TotalLines      int64                        `json:"total_lines_processed"`
	TotalBytes      int64                        `json:"total_bytes_processed"`
	StartTime       time.Time                    `json:"start_time"`
	Processes       map[string]*ProcessLogStatus `json:"processes"`
}
