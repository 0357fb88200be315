package domain

import "time"

// ProcessStatus enumerates the lifecycle states of a supervised child.
type ProcessStatus string

const (
	ProcessStarting ProcessStatus = "starting"
	ProcessRunning  ProcessStatus = "running"
	ProcessStopped  ProcessStatus = "stopped"
	ProcessFailed   ProcessStatus = "failed"
	ProcessCrashed  ProcessStatus = "crashed"
)

// ProcessID is a stable key for a supervised process: "router" or "tunnel".
type ProcessID string

const (
	ProcessRouter ProcessID = "router"
	ProcessTunnel ProcessID = "tunnel"
)

// MonitorConfig parameterizes how the Process Supervisor watches one record.
type MonitorConfig struct {
	CaptureStdout         bool
	CaptureStderr         bool
	MaxRestartAttempts    int
	RestartDelay          time.Duration
	OutputBufferLineLimit int
	HealthCheckInterval   time.Duration
	ProcessTimeout        time.Duration
}

// DefaultMonitorConfig returns sane defaults for a supervised child.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CaptureStdout:         true,
		CaptureStderr:         true,
		MaxRestartAttempts:    5,
		RestartDelay:          2 * time.Second,
		OutputBufferLineLimit: 4096,
		HealthCheckInterval:   30 * time.Second,
		ProcessTimeout:        10 * time.Second,
	}
}

// ProcessRecord tracks one supervised child's lifecycle.
type ProcessRecord struct {
	ID              ProcessID
	DisplayName     string
	PID             *int
	StartTime       time.Time
	Status          ProcessStatus
	RestartCount    int
	LastRestartTime time.Time
	Monitor         MonitorConfig
}
