package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"vod-publisher/internal/domain"
	"vod-publisher/shared/postgresql"
)

// Store is the durable record of every publish job. It is the single source
// of truth for recovery and status queries. All state transitions go through
// Transition, which is a compare-and-swap on the prior state, so concurrent
// callers can never interleave updates on the same job.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Store on top of the shared PostgreSQL client.
func New(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// jobRow is the flat table representation of a domain.Job.
type jobRow struct {
	JobID           string    `db:"job_id"`
	ChannelID       string    `db:"channel_id"`
	Title           string    `db:"title"`
	Description     string    `db:"description"`
	SourceRef       string    `db:"source_ref"`
	ThumbnailRef    string    `db:"thumbnail_ref"`
	Tags            string    `db:"tags"`
	CategoryID      string    `db:"category_id"`
	MadeForKids     bool      `db:"made_for_kids"`
	State           string    `db:"state"`
	ProviderVideoID string    `db:"provider_video_id"`
	ScheduledAt     time.Time `db:"scheduled_at"`
	PublishedLate   bool      `db:"published_late"`
	LastError       string    `db:"last_error"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

const jobColumns = `job_id, channel_id, title, description, source_ref, thumbnail_ref,
       tags, category_id, made_for_kids, state, provider_video_id,
       scheduled_at, published_late, last_error, created_at, updated_at`

func (r *jobRow) toDomain() (*domain.Job, error) {
	var tags []string
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for job %s: %w", r.JobID, err)
		}
	}

	return &domain.Job{
		JobID:     r.JobID,
		ChannelID: r.ChannelID,
		Video: domain.Video{
			Title:             r.Title,
			Description:       r.Description,
			SourceRef:         r.SourceRef,
			ThumbnailRef:      r.ThumbnailRef,
			Tags:              tags,
			CategoryID:        r.CategoryID,
			RestrictedForKids: r.MadeForKids,
		},
		State:           r.State,
		ProviderVideoID: r.ProviderVideoID,
		ScheduledAt:     r.ScheduledAt,
		PublishedLate:   r.PublishedLate,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// Create inserts a new PENDING job for the given descriptor. The scheduled
// time must be strictly in the future; otherwise no row is written and
// ErrInvalidSchedule is returned to the caller synchronously.
func (s *Store) Create(ctx context.Context, channelID string, video domain.Video, scheduledAt time.Time) (*domain.Job, error) {
	if !scheduledAt.After(time.Now()) {
		return nil, domain.ErrInvalidSchedule
	}

	tags, err := json.Marshal(video.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		JobID:       uuid.New().String(),
		ChannelID:   channelID,
		Video:       video,
		State:       domain.StatePending,
		ScheduledAt: scheduledAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO publish_jobs (
			job_id, channel_id, title, description, source_ref, thumbnail_ref,
			tags, category_id, made_for_kids, state, scheduled_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.ChannelID,
		video.Title,
		video.Description,
		video.SourceRef,
		video.ThumbnailRef,
		string(tags),
		video.CategoryID,
		video.RestrictedForKids,
		job.State,
		job.ScheduledAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create job: %v", domain.ErrStorageFailure, err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("channel_id", job.ChannelID),
		slog.Time("scheduled_at", job.ScheduledAt),
	)

	return job, nil
}

// Get retrieves a job snapshot by id.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: failed to get job: %v", domain.ErrStorageFailure, err)
	}

	return row.toDomain()
}

// Transition moves a job from one state to another atomically. The update is
// guarded by the expected prior state, so a transition that lost a race
// returns ErrConflict without touching the row. Optional mutation fields are
// applied in the same statement.
func (s *Store) Transition(ctx context.Context, jobID, from, to string, mut domain.JobMutation) (*domain.Job, error) {
	query := `
		UPDATE publish_jobs
		SET state = $1,
		    provider_video_id = COALESCE($2, provider_video_id),
		    last_error = COALESCE($3, last_error),
		    published_late = COALESCE($4, published_late),
		    updated_at = NOW()
		WHERE job_id = $5
		  AND state = $6
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, to, mut.ProviderVideoID, mut.LastError, mut.PublishedLate, jobID, from)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrJobNotFound) {
				return nil, domain.ErrJobNotFound
			}
			s.logger.Warn("Job transition lost race",
				slog.String("job_id", jobID),
				slog.String("from", from),
				slog.String("to", to),
			)
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("%w: failed to transition job: %v", domain.ErrStorageFailure, err)
	}

	s.logger.Info("Job state transition",
		slog.String("job_id", jobID),
		slog.String("from", from),
		slog.String("to", to),
	)

	return row.toDomain()
}

// Cancel moves a job to FAILED with reason "cancelled". Only PENDING and
// SCHEDULED jobs may be cancelled; exactly one of two concurrent cancels
// succeeds, the other observes ErrInvalidState.
func (s *Store) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE publish_jobs
		SET state = $1,
		    last_error = 'cancelled',
		    updated_at = NOW()
		WHERE job_id = $2
		  AND state IN ($3, $4)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, domain.StateFailed, jobID, domain.StatePending, domain.StateScheduled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrJobNotFound) {
				return nil, domain.ErrJobNotFound
			}
			return nil, domain.ErrInvalidState
		}
		return nil, fmt.Errorf("%w: failed to cancel job: %v", domain.ErrStorageFailure, err)
	}

	s.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)

	return row.toDomain()
}

// ListPending returns every job that has not reached a terminal state, in
// creation order. Used by startup reconciliation.
func (s *Store) ListPending(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM publish_jobs
		WHERE state NOT IN ($1, $2)
		ORDER BY created_at ASC
	`

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query, domain.StatePublished, domain.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pending jobs: %v", domain.ErrStorageFailure, err)
	}

	return s.toDomainList(rows)
}

// JobFilter narrows ListByChannel results.
type JobFilter struct {
	ChannelID string
	State     string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position for paginated job listings.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListByChannel returns jobs for one channel, newest first, with keyset
// pagination. One extra row beyond PageSize is returned so the caller can
// detect whether more results exist.
func (s *Store) ListByChannel(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE channel_id = $1`
	args := []interface{}{filter.ChannelID}
	argIdx := 2

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list jobs: %v", domain.ErrStorageFailure, err)
	}

	return s.toDomainList(rows)
}

func (s *Store) toDomainList(rows []jobRow) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// GetCredential loads the OAuth grant material for a channel.
func (s *Store) GetCredential(ctx context.Context, channelID string) (*domain.ChannelCredential, error) {
	var cred domain.ChannelCredential
	query := `
		SELECT channel_id, channel_name, client_id, client_secret, refresh_token, created_at
		FROM channel_credentials
		WHERE channel_id = $1
	`

	err := s.db.GetContext(ctx, &cred, query, channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no credentials for channel %s", domain.ErrUnauthorized, channelID)
		}
		return nil, fmt.Errorf("%w: failed to get credentials: %v", domain.ErrStorageFailure, err)
	}

	return &cred, nil
}
