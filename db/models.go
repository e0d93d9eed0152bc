package db

import "time"

// Credential stores the Data Collector password for a user@host pair,
// so it only has to be typed once.
type Credential struct {
	// ID is "{user}@{host}".
	ID        string
	Host      string
	User      string
	Password  string
	UpdatedAt time.Time
}

// RefreshStatus is the lifecycle state of a refresh run.
type RefreshStatus string

const (
	RefreshStatusRunning   RefreshStatus = "running"
	RefreshStatusSucceeded RefreshStatus = "succeeded"
	RefreshStatusFailed    RefreshStatus = "failed"
)

// RefreshRecord journals a single view volume refresh run, so failed
// runs can be inspected and cleaned up after the fact.
type RefreshRecord struct {
	// ID is a UUID generated when the run starts. The same ID is
	// embedded in the replay description on the Storage Center.
	ID string

	Source           string
	SourceMount      string
	Destination      string
	DestinationMount string
	Environment      string

	// VolumeName is the source volume that was cloned.
	VolumeName string
	// ViewVolumeName is the name of the created view volume.
	ViewVolumeName string
	// ReplayID is the instance ID of the short lived replay.
	ReplayID string
	// ViewVolumeID is the instance ID of the created view volume.
	ViewVolumeID string

	Status     RefreshStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
