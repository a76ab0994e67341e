// Package history keeps two bounded per-channel logs, recent successes and
// recent failures, for user-facing reporting. They are caches, not the
// authoritative job record: the job store stays the source of truth.
package history

import (
	"context"

	"vod-publisher/internal/domain"
)

// Cache is the bounded per-channel history log contract. Each record call
// appends and trims the log to the most recent domain.HistoryMaxEntries;
// listings are ordered most recent first.
type Cache interface {
	RecordSuccess(ctx context.Context, entry domain.HistoryEntry) error
	RecordFailure(ctx context.Context, entry domain.HistoryEntry) error
	ListSuccess(ctx context.Context, channelID string) ([]domain.HistoryEntry, error)
	ListFailure(ctx context.Context, channelID string) ([]domain.HistoryEntry, error)

	// ReplaceSuccess swaps the whole success log for a channel in one shot.
	// Used by the refresh path that reconciles against platform ground
	// truth.
	ReplaceSuccess(ctx context.Context, channelID string, entries []domain.HistoryEntry) error
}
