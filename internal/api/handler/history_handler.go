package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vod-publisher/internal/api/dto"
	"vod-publisher/internal/domain"
)

func toHistoryResponse(channelID string, entries []domain.HistoryEntry) dto.HistoryResponse {
	out := make([]dto.HistoryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = dto.HistoryEntryDTO{
			JobID:     e.JobID,
			VideoID:   e.VideoID,
			Title:     e.Title,
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Reason:    e.Reason,
		}
	}
	return dto.HistoryResponse{
		ChannelID: channelID,
		Entries:   out,
	}
}

// ListPublishedHistory handles GET /api/v1/channels/:channel_id/history/published
func (h *JobHandler) ListPublishedHistory(c *gin.Context) {
	channelID := c.Param("channel_id")

	entries, err := h.history.ListSuccess(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("Failed to list published history",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history",
		})
		return
	}

	c.JSON(http.StatusOK, toHistoryResponse(channelID, entries))
}

// ListFailedHistory handles GET /api/v1/channels/:channel_id/history/failed
func (h *JobHandler) ListFailedHistory(c *gin.Context) {
	channelID := c.Param("channel_id")

	entries, err := h.history.ListFailure(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("Failed to list failed history",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history",
		})
		return
	}

	c.JSON(http.StatusOK, toHistoryResponse(channelID, entries))
}

// RefreshHistory handles POST /api/v1/channels/:channel_id/history/refresh
// Rebuilds the success history from the platform's actual recent uploads,
// for channels whose videos are also managed outside this service.
func (h *JobHandler) RefreshHistory(c *gin.Context) {
	channelID := c.Param("channel_id")

	recent, err := h.videos.ListRecent(c.Request.Context(), channelID, domain.HistoryMaxEntries)
	if err != nil {
		h.logger.Error("Failed to fetch recent uploads",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to fetch recent uploads",
		})
		return
	}

	entries := make([]domain.HistoryEntry, 0, len(recent))
	for _, v := range recent {
		ts, err := time.Parse(time.RFC3339, v.PublishAt)
		if err != nil {
			ts = time.Now().UTC()
		}
		entries = append(entries, domain.HistoryEntry{
			ChannelID: channelID,
			VideoID:   v.VideoID,
			Title:     v.Title,
			Timestamp: ts,
		})
	}

	if err := h.history.ReplaceSuccess(c.Request.Context(), channelID, entries); err != nil {
		h.logger.Error("Failed to replace history",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to replace history",
		})
		return
	}

	h.logger.Info("History refreshed from platform",
		slog.String("channel_id", channelID),
		slog.Int("entries", len(entries)),
	)

	c.JSON(http.StatusOK, toHistoryResponse(channelID, entries))
}
