package domain

import "time"

// HistoryMaxEntries caps each per-channel history log. Inserting beyond the
// cap evicts the oldest entry.
const HistoryMaxEntries = 20

// HistoryEntry is one record in a per-channel success or failure log.
type HistoryEntry struct {
	ChannelID string    `json:"channel_id"`
	JobID     string    `json:"job_id"`
	VideoID   string    `json:"video_id,omitempty"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
