package processmanagement

// Status is the derived state of a configured process. It is recomputed on every query.
type Status int

const (
	StatusNotConfigured Status = iota
	StatusDisabled
	StatusStopped
	StatusUnavailable
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusNotConfigured:
		return "Not Configured"
	case StatusDisabled:
		return "Disabled"
	case StatusStopped:
		return "Stopped"
	case StatusUnavailable:
		return "Unavailable"
	case StatusRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status the same way as the control protocol
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopOutcome tells how a running process ended up stopped
type StopOutcome int

const (
	StoppedGracefully StopOutcome = iota
	StoppedForcibly
)

func (o StopOutcome) String() string {
	if o == StoppedForcibly {
		return "stopped forcibly"
	}
	return "stopped gracefully"
}

// Mode is the short label used for metrics
func (o StopOutcome) Mode() string {
	if o == StoppedForcibly {
		return "forced"
	}
	return "graceful"
}
