package dto

import "time"

// ManifestRequest is a batch of videos to publish on one channel.
type ManifestRequest struct {
	ChannelID string          `json:"channel_id" binding:"required"`
	Videos    []ManifestVideo `json:"videos" binding:"required,min=1,dive"`
}

// ManifestVideo describes one video in a manifest.
type ManifestVideo struct {
	Title             string    `json:"title" binding:"required,max=100"`
	Description       string    `json:"description" binding:"max=5000"`
	SourceURL         string    `json:"source_url" binding:"required"`
	ThumbnailURL      string    `json:"thumbnail_url"`
	Tags              []string  `json:"tags"`
	CategoryID        string    `json:"category_id"`
	RestrictedForKids bool      `json:"restricted_for_kids"`
	PublishAt         time.Time `json:"publish_at" binding:"required"`
}

// ManifestResponse reports the per-video outcome of a manifest submission.
// Accepted videos have a job; rejected ones carry the refusal reason.
type ManifestResponse struct {
	Accepted []JobDTO        `json:"accepted"`
	Rejected []RejectedVideo `json:"rejected"`
}

// RejectedVideo identifies a manifest entry that was not accepted.
type RejectedVideo struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// JobDTO is the external representation of a publish job.
type JobDTO struct {
	JobID           string `json:"job_id"`
	ChannelID       string `json:"channel_id"`
	Title           string `json:"title"`
	State           string `json:"state"`
	ProviderVideoID string `json:"provider_video_id,omitempty"`
	ScheduledAt     string `json:"scheduled_at"`
	PublishedLate   bool   `json:"published_late"`
	LastError       string `json:"last_error,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ListJobsRequest carries the filter and pagination query parameters.
type ListJobsRequest struct {
	ChannelID string `form:"channel_id" binding:"required"`
	State     string `form:"state"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus the cursor for the next page.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// HistoryEntryDTO is one line of a channel's publish history.
type HistoryEntryDTO struct {
	JobID     string `json:"job_id,omitempty"`
	VideoID   string `json:"video_id,omitempty"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// HistoryResponse is a channel's bounded publish history.
type HistoryResponse struct {
	ChannelID string            `json:"channel_id"`
	Entries   []HistoryEntryDTO `json:"entries"`
}
