package diagnostics

import "time"

// ProcessEventModel is one row of the Diagnostics Ledger's process
// event history, sourced from supervisor.Event.
type ProcessEventModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProcessID string `gorm:"size:64;index;not null"`
	Kind      string `gorm:"size:32;not null"`
	Stream    string `gorm:"size:16"`
	Line      string `gorm:"type:text"`
	ExitCode  int
	Attempt   int
	ErrorText string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index"`
}

// TableName pins the table name independent of struct renames.
func (ProcessEventModel) TableName() string {
	return "process_events"
}

// HealthSampleModel is one row of the Health Loop's periodic
// observations.
type HealthSampleModel struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	TrayState     string `gorm:"size:16;not null"`
	ServerHealthy bool
	TunnelHealthy bool
	RouterHealthy bool
	LastError     string    `gorm:"type:text"`
	Timestamp     time.Time `gorm:"index"`
}

// TableName pins the table name independent of struct renames.
func (HealthSampleModel) TableName() string {
	return "health_samples"
}
