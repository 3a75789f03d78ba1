package history

import "time"

// Redeploy statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RedeployRecord is one verified webhook delivery and its outcome
type RedeployRecord struct {
	ID              int64
	DeliveryID      string
	Event           string
	Ref             string
	Status          string // success, failed
	StartedAt       time.Time
	CompletedAt     *time.Time // nullable
	DurationSeconds *float64   // nullable
	CommitHash      *string    // nullable
	ErrorMessage    *string    // nullable
}
