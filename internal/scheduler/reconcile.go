package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vod-publisher/internal/domain"
)

// Reconcile restores in-flight jobs after a restart. Every non-terminal job
// in the store is either re-queued, re-armed, or settled against the
// platform's ground truth:
//
//   - PENDING: re-enqueued into the pipeline.
//   - DOWNLOADING / UPLOADING: scratch files did not survive the restart,
//     so the job is moved back to PENDING and re-enqueued from the top.
//   - SCHEDULED: the publish timer is re-armed (firing immediately, late,
//     when the moment already passed).
//   - PUBLISHING: the process died mid-flip. The platform is queried to
//     learn whether the flip landed before the crash.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	jobs, err := s.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs for reconciliation: %w", err)
	}

	s.logger.Info("Reconciling persisted jobs",
		slog.Int("count", len(jobs)),
	)

	for i := range jobs {
		job := &jobs[i]
		switch job.State {
		case domain.StatePending:
			s.enqueue(task{kind: taskPipeline, jobID: job.JobID})

		case domain.StateDownloading, domain.StateUploading:
			s.restartPipeline(ctx, job)

		case domain.StateScheduled:
			s.armTimer(job.JobID, job.ScheduledAt)

		case domain.StatePublishing:
			s.settlePublishing(ctx, job)
		}
	}

	return nil
}

// restartPipeline sends a job interrupted mid-transfer back to PENDING and
// re-enqueues it. Local scratch is gone, so the transfer starts over.
func (s *Scheduler) restartPipeline(ctx context.Context, job *domain.Job) {
	s.logger.Info("Restarting interrupted job",
		slog.String("job_id", job.JobID),
		slog.String("state", job.State),
	)

	if _, err := s.store.Transition(ctx, job.JobID, job.State, domain.StatePending, domain.JobMutation{}); err != nil {
		s.logger.Error("Failed to reset interrupted job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.enqueue(task{kind: taskPipeline, jobID: job.JobID})
}

// settlePublishing resolves a job caught mid-flip by asking the platform
// whether the video actually went public. If it did, the crash happened
// after the flip and only the record is behind; otherwise the job returns
// to SCHEDULED and the flip is retried immediately.
func (s *Scheduler) settlePublishing(ctx context.Context, job *domain.Job) {
	status, err := s.publisher.GetStatus(ctx, job.ChannelID, job.ProviderVideoID)
	if err != nil {
		s.logger.Error("Failed to query video status during reconciliation",
			slog.String("job_id", job.JobID),
			slog.String("video_id", job.ProviderVideoID),
			slog.String("error", err.Error()),
		)
		// Fall through to retrying the flip: SetVisibility on an already
		// public video is harmless.
		status = nil
	}

	if status != nil && status.Visibility == domain.VisibilityPublic {
		s.logger.Info("Publish completed before restart, settling record",
			slog.String("job_id", job.JobID),
			slog.String("video_id", job.ProviderVideoID),
		)

		settled, err := s.store.Transition(ctx, job.JobID, domain.StatePublishing, domain.StatePublished, domain.JobMutation{})
		if err != nil {
			s.logger.Error("Failed to settle published job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			return
		}
		job = settled

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
		return
	}

	if _, err := s.store.Transition(ctx, job.JobID, domain.StatePublishing, domain.StateScheduled, domain.JobMutation{}); err != nil {
		s.logger.Error("Failed to reset publishing job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.enqueue(task{kind: taskPublish, jobID: job.JobID, late: true})
}
