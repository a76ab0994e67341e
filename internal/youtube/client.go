// Package youtube wraps the YouTube Data API calls the pipeline needs:
// uploading under restricted visibility, flipping visibility at publish
// time, and reading back platform-side status.
package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"vod-publisher/internal/domain"
	"vod-publisher/internal/gapierr"
)

// TokenProvider supplies a valid access token for a channel at call time.
type TokenProvider interface {
	Token(ctx context.Context, channelID string) (*oauth2.Token, error)
	Invalidate(channelID string)
}

// Client is the publishing client. Every operation fetches a fresh token
// from the provider; a 401 gets exactly one forced-refresh retry before the
// call fails as Unauthorized.
type Client struct {
	tokens TokenProvider
	logger *slog.Logger

	// newService is swapped out in tests.
	newService func(ctx context.Context, tok *oauth2.Token) (*youtube.Service, error)
}

// NewClient creates a Client using the given token provider.
func NewClient(tokens TokenProvider, logger *slog.Logger) *Client {
	return &Client{
		tokens:     tokens,
		logger:     logger,
		newService: newYoutubeService,
	}
}

func newYoutubeService(ctx context.Context, tok *oauth2.Token) (*youtube.Service, error) {
	return youtube.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
}

func (c *Client) service(ctx context.Context, channelID string) (*youtube.Service, error) {
	tok, err := c.tokens.Token(ctx, channelID)
	if err != nil {
		return nil, err
	}
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create youtube service: %v", domain.ErrTransientNetwork, err)
	}
	return svc, nil
}

// withAuthRetry runs fn and, when it fails with Unauthorized, invalidates
// the cached token and runs it once more with a freshly exchanged one.
func (c *Client) withAuthRetry(ctx context.Context, channelID string, fn func(svc *youtube.Service) error) error {
	svc, err := c.service(ctx, channelID)
	if err != nil {
		return err
	}

	err = fn(svc)
	if err == nil || !gapierr.IsUnauthorized(err) {
		return err
	}

	c.logger.Warn("YouTube call rejected token, retrying with forced refresh",
		slog.String("channel_id", channelID),
	)
	c.tokens.Invalidate(channelID)

	svc, serr := c.service(ctx, channelID)
	if serr != nil {
		return serr
	}
	return fn(svc)
}

// CreateRestricted uploads the fetched asset and its metadata. Visibility is
// fixed to private regardless of the descriptor's final intent, so a crash
// before the scheduled time can never leak a public video. Returns the
// provider-assigned video id.
func (c *Client) CreateRestricted(ctx context.Context, channelID string, video domain.Video, filePath, thumbnailPath string) (string, error) {
	var videoID string

	err := c.withAuthRetry(ctx, channelID, func(svc *youtube.Service) error {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open video file: %w", err)
		}
		defer f.Close()

		upload := &youtube.Video{
			Snippet: &youtube.VideoSnippet{
				Title:       video.Title,
				Description: video.Description,
				Tags:        video.Tags,
				CategoryId:  video.CategoryID,
			},
			Status: &youtube.VideoStatus{
				PrivacyStatus:           domain.VisibilityPrivate,
				SelfDeclaredMadeForKids: video.RestrictedForKids,
				ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
			},
		}

		resp, err := svc.Videos.Insert([]string{"snippet", "status"}, upload).
			Media(f).
			Context(ctx).
			Do()
		if err != nil {
			return gapierr.Classify(err)
		}

		videoID = resp.Id
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("Video uploaded as private",
		slog.String("channel_id", channelID),
		slog.String("video_id", videoID),
		slog.String("title", video.Title),
	)

	if thumbnailPath != "" {
		// Thumbnail failure does not fail the job; the video is usable
		// without it.
		if err := c.setThumbnail(ctx, channelID, videoID, thumbnailPath); err != nil {
			c.logger.Warn("Thumbnail upload failed",
				slog.String("video_id", videoID),
				slog.String("error", err.Error()),
			)
		}
	}

	return videoID, nil
}

func (c *Client) setThumbnail(ctx context.Context, channelID, videoID, thumbnailPath string) error {
	return c.withAuthRetry(ctx, channelID, func(svc *youtube.Service) error {
		f, err := os.Open(thumbnailPath)
		if err != nil {
			return fmt.Errorf("failed to open thumbnail file: %w", err)
		}
		defer f.Close()

		_, err = svc.Thumbnails.Set(videoID).
			Media(f).
			Context(ctx).
			Do()
		if err != nil {
			return gapierr.Classify(err)
		}
		return nil
	})
}

// SetVisibility flips the video's privacy status. This is the single
// lightweight call fired at the scheduled instant.
func (c *Client) SetVisibility(ctx context.Context, channelID, videoID, visibility string) error {
	err := c.withAuthRetry(ctx, channelID, func(svc *youtube.Service) error {
		_, err := svc.Videos.Update([]string{"status"}, &youtube.Video{
			Id: videoID,
			Status: &youtube.VideoStatus{
				PrivacyStatus: visibility,
			},
		}).Context(ctx).Do()
		if err != nil {
			return gapierr.Classify(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("Video visibility updated",
		slog.String("channel_id", channelID),
		slog.String("video_id", videoID),
		slog.String("visibility", visibility),
	)

	return nil
}

// GetStatus reads the platform-side state of one video. Used by startup
// reconciliation and by the history refresh path.
func (c *Client) GetStatus(ctx context.Context, channelID, videoID string) (*domain.VideoStatus, error) {
	var status *domain.VideoStatus

	err := c.withAuthRetry(ctx, channelID, func(svc *youtube.Service) error {
		resp, err := svc.Videos.List([]string{"snippet", "status"}).
			Id(videoID).
			Context(ctx).
			Do()
		if err != nil {
			return gapierr.Classify(err)
		}
		if len(resp.Items) == 0 {
			return fmt.Errorf("%w: video %s", domain.ErrNotFound, videoID)
		}

		item := resp.Items[0]
		status = &domain.VideoStatus{
			VideoID:    item.Id,
			Title:      item.Snippet.Title,
			Visibility: item.Status.PrivacyStatus,
			PublishAt:  item.Status.PublishAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return status, nil
}

// ListRecent returns the channel's most recent uploads, newest first. Feeds
// the history refresh endpoint.
func (c *Client) ListRecent(ctx context.Context, channelID string, max int64) ([]domain.VideoStatus, error) {
	var out []domain.VideoStatus

	err := c.withAuthRetry(ctx, channelID, func(svc *youtube.Service) error {
		search, err := svc.Search.List([]string{"id"}).
			ForMine(true).
			Type("video").
			Order("date").
			MaxResults(max).
			Context(ctx).
			Do()
		if err != nil {
			return gapierr.Classify(err)
		}

		ids := make([]string, 0, len(search.Items))
		for _, item := range search.Items {
			if item.Id != nil && item.Id.VideoId != "" {
				ids = append(ids, item.Id.VideoId)
			}
		}
		if len(ids) == 0 {
			out = nil
			return nil
		}

		videos, err := svc.Videos.List([]string{"snippet", "status"}).
			Id(strings.Join(ids, ",")).
			Context(ctx).
			Do()
		if err != nil {
			return gapierr.Classify(err)
		}

		out = make([]domain.VideoStatus, 0, len(videos.Items))
		for _, item := range videos.Items {
			out = append(out, domain.VideoStatus{
				VideoID:    item.Id,
				Title:      item.Snippet.Title,
				Visibility: item.Status.PrivacyStatus,
				PublishAt:  item.Status.PublishAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
