package domain

import "time"

// SyncTrigger names what started a refresh cycle.
type SyncTrigger string

const (
	TriggerScheduler SyncTrigger = "scheduler"
	TriggerWebhook   SyncTrigger = "webhook"
	TriggerManual    SyncTrigger = "manual"
)

// SyncRun is the telemetry of one refresh cycle, persisted for audit.
// Snapshots and change events themselves are never persisted.
type SyncRun struct {
	DatasetKey    string        `json:"dataset_key"`
	Trigger       SyncTrigger   `json:"trigger"`
	RowsRead      int           `json:"rows_read"`
	RowsConverted int           `json:"rows_converted"`
	RowsSkipped   int           `json:"rows_skipped"`
	EventsEmitted int           `json:"events_emitted"`
	Duration      time.Duration `json:"duration_ms"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}
