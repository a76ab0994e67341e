package handler

import (
	"context"
	"log/slog"
	"time"

	"vod-publisher/internal/domain"
	"vod-publisher/internal/store"
)

// JobStore is the durable job record behind the API surface.
type JobStore interface {
	Create(ctx context.Context, channelID string, video domain.Video, scheduledAt time.Time) (*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	ListByChannel(ctx context.Context, filter store.JobFilter) ([]domain.Job, error)
}

// QueuePublisher hands accepted jobs off to the scheduler service.
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// HistoryCache exposes the bounded per-channel publish history.
type HistoryCache interface {
	ListSuccess(ctx context.Context, channelID string) ([]domain.HistoryEntry, error)
	ListFailure(ctx context.Context, channelID string) ([]domain.HistoryEntry, error)
	RecordFailure(ctx context.Context, entry domain.HistoryEntry) error
	ReplaceSuccess(ctx context.Context, channelID string, entries []domain.HistoryEntry) error
}

// VideoLister queries the hosting platform for a channel's recent uploads.
type VideoLister interface {
	ListRecent(ctx context.Context, channelID string, max int64) ([]domain.VideoStatus, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       JobStore
	Queue       QueuePublisher
	History     HistoryCache
	Videos      VideoLister
	DBHealth    HealthChecker
	CacheHealth HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	store   JobStore
	queue   QueuePublisher
	history HistoryCache
	videos  VideoLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		queue:   deps.Queue,
		history: deps.History,
		videos:  deps.Videos,
	}
}
