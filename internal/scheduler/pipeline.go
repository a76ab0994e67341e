package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"vod-publisher/internal/domain"
)

// runPipeline drives one job from PENDING through download and upload to
// SCHEDULED. The per-job lock keeps it from ever interleaving with a
// timer-fired publish or a second delivery of the same message.
func (s *Scheduler) runPipeline(ctx context.Context, jobID string) error {
	s.locks.Lock(jobID)
	defer s.locks.Unlock(jobID)

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Warn("Dropping message for unknown job",
				slog.String("job_id", jobID),
			)
			return nil
		}
		// The store being unreachable before the claim is the one case the
		// queue should redeliver.
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.State != domain.StatePending {
		// Redelivered, reconciled elsewhere, or cancelled before pickup.
		s.logger.Info("Skipping job not in PENDING",
			slog.String("job_id", jobID),
			slog.String("state", job.State),
		)
		return nil
	}

	job, err = s.store.Transition(ctx, jobID, domain.StatePending, domain.StateDownloading, domain.JobMutation{})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	jobCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	// Scratch files are removed on every exit path so failed or cancelled
	// jobs never accumulate disk.
	videoPath := filepath.Join(s.scratchDir, job.JobID+".video")
	defer os.Remove(videoPath)

	thumbnailPath := ""
	if job.Video.ThumbnailRef != "" {
		thumbnailPath = filepath.Join(s.scratchDir, job.JobID+".thumb")
		defer os.Remove(thumbnailPath)
	}

	err = s.withRetry(jobCtx, job.JobID, "download", func(ctx context.Context) error {
		if err := s.fetcher.Fetch(ctx, job.ChannelID, job.Video.SourceRef, videoPath); err != nil {
			return err
		}
		if thumbnailPath != "" {
			return s.fetcher.Fetch(ctx, job.ChannelID, job.Video.ThumbnailRef, thumbnailPath)
		}
		return nil
	})
	if err != nil {
		s.failJob(ctx, job, domain.StateDownloading, err)
		return nil
	}

	job, err = s.store.Transition(ctx, jobID, domain.StateDownloading, domain.StateUploading, domain.JobMutation{})
	if err != nil {
		return nil
	}

	var videoID string
	err = s.withRetry(jobCtx, job.JobID, "upload", func(ctx context.Context) error {
		id, uploadErr := s.publisher.CreateRestricted(ctx, job.ChannelID, job.Video, videoPath, thumbnailPath)
		if uploadErr != nil {
			return uploadErr
		}
		videoID = id
		return nil
	})
	if err != nil {
		s.failJob(ctx, job, domain.StateUploading, err)
		return nil
	}

	job, err = s.store.Transition(ctx, jobID, domain.StateUploading, domain.StateScheduled, domain.JobMutation{
		ProviderVideoID: &videoID,
	})
	if err != nil {
		return nil
	}

	s.logger.Info("Job scheduled for publish",
		slog.String("job_id", job.JobID),
		slog.String("video_id", videoID),
		slog.Time("scheduled_at", job.ScheduledAt),
	)

	s.armTimer(job.JobID, job.ScheduledAt)
	return nil
}

// failJob moves a job to FAILED and records the failure in the channel's
// history log. Callers only ever see the classification, never transport
// detail.
func (s *Scheduler) failJob(ctx context.Context, job *domain.Job, from string, cause error) {
	class := domain.Classification(cause)

	s.logger.Error("Job failed",
		slog.String("job_id", job.JobID),
		slog.String("phase", from),
		slog.String("class", class),
		slog.String("error", cause.Error()),
	)

	if _, err := s.store.Transition(ctx, job.JobID, from, domain.StateFailed, domain.JobMutation{
		LastError: &class,
	}); err != nil {
		s.logger.Error("Failed to record job failure",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.history.RecordFailure(ctx, domain.HistoryEntry{
		ChannelID: job.ChannelID,
		JobID:     job.JobID,
		VideoID:   job.ProviderVideoID,
		Title:     job.Video.Title,
		Timestamp: time.Now().UTC(),
		Reason:    class,
	}); err != nil {
		s.logger.Error("Failed to record failure history entry",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// withRetry runs fn with bounded exponential backoff. Only retryable
// classes are retried; fatal classes surface immediately. The delay doubles
// each attempt, jittered, capped at the configured maximum.
func (s *Scheduler) withRetry(ctx context.Context, jobID, phase string, fn func(ctx context.Context) error) error {
	delay := s.retry.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !domain.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == s.retry.MaxAttempts {
			break
		}

		sleep := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		if sleep > s.retry.MaxDelay {
			sleep = s.retry.MaxDelay
		}

		s.logger.Warn("Retrying after transient failure",
			slog.String("job_id", jobID),
			slog.String("phase", phase),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.retry.MaxAttempts),
			slog.Duration("retry_after", sleep),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, ctx.Err())
		}

		delay *= 2
	}

	return lastErr
}
