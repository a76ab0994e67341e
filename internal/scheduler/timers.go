package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vod-publisher/internal/domain"
)

// armTimer registers an in-process timer that fires the visibility flip at
// scheduledAt. A zero or negative delay means the moment already passed, so
// the publish is enqueued immediately and flagged late. Re-arming an
// existing timer replaces it.
func (s *Scheduler) armTimer(jobID string, scheduledAt time.Time) {
	delay := time.Until(scheduledAt)

	if delay <= 0 {
		s.logger.Warn("Publish time already passed, publishing now",
			slog.String("job_id", jobID),
			slog.Time("scheduled_at", scheduledAt),
		)
		s.enqueue(task{kind: taskPublish, jobID: jobID, late: true})
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if prev, ok := s.timers[jobID]; ok {
		prev.Stop()
	}

	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, jobID)
		s.timerMu.Unlock()

		s.enqueue(task{kind: taskPublish, jobID: jobID})
	})

	s.logger.Info("Publish timer armed",
		slog.String("job_id", jobID),
		slog.Duration("fires_in", delay),
	)
}

func (s *Scheduler) disarmTimer(jobID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) disarmAllTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	for jobID, t := range s.timers {
		t.Stop()
		delete(s.timers, jobID)
	}
}

// publishJob flips a SCHEDULED job's video to public. The store transition
// is the arbiter: if the job was cancelled or another process claimed it,
// the claim loses and the attempt is dropped before any network call.
func (s *Scheduler) publishJob(ctx context.Context, jobID string, late bool) error {
	s.locks.Lock(jobID)
	defer s.locks.Unlock(jobID)

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		s.logger.Error("Failed to load job for publish",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if job.State != domain.StateScheduled {
		s.logger.Info("Skipping publish for job not in SCHEDULED",
			slog.String("job_id", jobID),
			slog.String("state", job.State),
		)
		return nil
	}

	mut := domain.JobMutation{}
	if late {
		mut.PublishedLate = &late
	}
	job, err = s.store.Transition(ctx, jobID, domain.StateScheduled, domain.StatePublishing, mut)
	if err != nil {
		// Lost the claim: cancelled, already publishing, or gone.
		return nil
	}

	pubCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	err = s.withRetry(pubCtx, jobID, "publish", func(ctx context.Context) error {
		return s.publisher.SetVisibility(ctx, job.ChannelID, job.ProviderVideoID, domain.VisibilityPublic)
	})
	if err != nil {
		s.failJob(ctx, job, domain.StatePublishing, err)
		return nil
	}

	job, err = s.store.Transition(ctx, jobID, domain.StatePublishing, domain.StatePublished, domain.JobMutation{})
	if err != nil {
		s.logger.Error("Failed to record published state",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.logger.Info("Video published",
		slog.String("job_id", job.JobID),
		slog.String("video_id", job.ProviderVideoID),
		slog.Bool("late", job.PublishedLate),
	)

	if err := s.history.RecordSuccess(ctx, domain.HistoryEntry{
		ChannelID: job.ChannelID,
		JobID:     job.JobID,
		VideoID:   job.ProviderVideoID,
		Title:     job.Video.Title,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to record success history entry",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
