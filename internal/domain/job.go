package domain

import "time"

// Job states. A job moves strictly forward through the pipeline; PUBLISHED
// and FAILED are terminal.
const (
	StatePending     = "PENDING"
	StateDownloading = "DOWNLOADING"
	StateUploading   = "UPLOADING"
	StateScheduled   = "SCHEDULED"
	StatePublishing  = "PUBLISHING"
	StatePublished   = "PUBLISHED"
	StateFailed      = "FAILED"
)

// Visibility values on the hosting platform.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Job is one unit of scheduled publishing work for a single video.
type Job struct {
	JobID           string    `db:"job_id"`
	ChannelID       string    `db:"channel_id"`
	Video           Video     `db:"-"`
	State           string    `db:"state"`
	ProviderVideoID string    `db:"provider_video_id"`
	ScheduledAt     time.Time `db:"scheduled_at"`
	PublishedLate   bool      `db:"published_late"`
	LastError       string    `db:"last_error"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.State == StatePublished || j.State == StateFailed
}

// CanCancel reports whether the job may still be cancelled. Cancellation is
// only allowed before irreversible external side effects, i.e. while the job
// is waiting to be picked up or waiting for its publish time.
func (j *Job) CanCancel() bool {
	return j.State == StatePending || j.State == StateScheduled
}

// JobMutation holds the optional field updates applied together with a state
// transition. Nil fields are left untouched.
type JobMutation struct {
	ProviderVideoID *string
	LastError       *string
	PublishedLate   *bool
}

// JobMessage is the hand-off message the API service publishes to RabbitMQ
// when a manifest entry is accepted.
type JobMessage struct {
	JobID string `json:"job_id"`
}
