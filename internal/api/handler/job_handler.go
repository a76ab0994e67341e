package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vod-publisher/internal/api/dto"
	"vod-publisher/internal/domain"
	"vod-publisher/internal/store"
)

func toJobDTO(job *domain.Job) dto.JobDTO {
	return dto.JobDTO{
		JobID:           job.JobID,
		ChannelID:       job.ChannelID,
		Title:           job.Video.Title,
		State:           job.State,
		ProviderVideoID: job.ProviderVideoID,
		ScheduledAt:     job.ScheduledAt.Format(time.RFC3339),
		PublishedLate:   job.PublishedLate,
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}

// SubmitManifest handles POST /api/v1/manifests
// Accepts a batch of videos and creates one publish job per entry. Entries
// with an invalid schedule are rejected individually; the rest proceed.
func (h *JobHandler) SubmitManifest(c *gin.Context) {
	var req dto.ManifestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid manifest body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("Manifest submitted",
		slog.String("channel_id", req.ChannelID),
		slog.Int("videos", len(req.Videos)),
	)

	resp := dto.ManifestResponse{
		Accepted: []dto.JobDTO{},
		Rejected: []dto.RejectedVideo{},
	}

	for i, v := range req.Videos {
		video := domain.Video{
			Title:             v.Title,
			Description:       v.Description,
			SourceRef:         v.SourceURL,
			ThumbnailRef:      v.ThumbnailURL,
			Tags:              v.Tags,
			CategoryID:        v.CategoryID,
			RestrictedForKids: v.RestrictedForKids,
		}

		job, err := h.store.Create(c.Request.Context(), req.ChannelID, video, v.PublishAt)
		if err != nil {
			reason := domain.Classification(err)
			if errors.Is(err, domain.ErrInvalidSchedule) {
				reason = "INVALID_SCHEDULE"
			}

			h.logger.Warn("Manifest entry rejected",
				slog.String("channel_id", req.ChannelID),
				slog.Int("index", i),
				slog.String("reason", reason),
			)
			resp.Rejected = append(resp.Rejected, dto.RejectedVideo{
				Index:  i,
				Title:  v.Title,
				Reason: reason,
			})
			continue
		}

		h.announceJob(c, job)
		resp.Accepted = append(resp.Accepted, toJobDTO(job))
	}

	status := http.StatusCreated
	if len(resp.Accepted) == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

// announceJob hands the job off to the scheduler queue. A publish failure
// is not fatal: the job is already durable in PENDING and scheduler
// reconciliation will pick it up on its next start.
func (h *JobHandler) announceJob(c *gin.Context, job *domain.Job) {
	body, err := json.Marshal(domain.JobMessage{JobID: job.JobID})
	if err != nil {
		h.logger.Error("Failed to encode job message",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := h.queue.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to announce job, deferring to reconciliation",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancellation only succeeds while the job is waiting (PENDING or
// SCHEDULED); once a transfer or the visibility flip is underway the
// request is refused.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.Cancel(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job can no longer be cancelled",
			})
		default:
			h.logger.Error("Failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	h.logger.Info("Job cancelled",
		slog.String("job_id", job.JobID),
		slog.String("channel_id", job.ChannelID),
	)

	if err := h.history.RecordFailure(c.Request.Context(), domain.HistoryEntry{
		ChannelID: job.ChannelID,
		JobID:     job.JobID,
		VideoID:   job.ProviderVideoID,
		Title:     job.Video.Title,
		Timestamp: time.Now().UTC(),
		Reason:    "CANCELLED",
	}); err != nil {
		h.logger.Error("Failed to record cancellation history entry",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists one channel's jobs, newest first, with keyset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "channel_id is required",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListByChannel(c.Request.Context(), store.JobFilter{
		ChannelID: req.ChannelID,
		State:     req.State,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs",
			slog.String("channel_id", req.ChannelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		out[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}
