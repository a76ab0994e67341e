// Package drive retrieves manifest-referenced source files from Google
// Drive into local scratch storage.
package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"vod-publisher/internal/domain"
	"vod-publisher/internal/gapierr"
)

// TokenProvider supplies a valid access token for a channel at call time.
type TokenProvider interface {
	Token(ctx context.Context, channelID string) (*oauth2.Token, error)
	Invalidate(channelID string)
}

// Fetcher downloads Drive files. The caller owns the destination path and is
// responsible for removing it on every exit path; Fetch itself only cleans
// up after a failed download.
type Fetcher struct {
	tokens TokenProvider
	logger *slog.Logger

	// newService is swapped out in tests.
	newService func(ctx context.Context, tok *oauth2.Token) (*drive.Service, error)
}

// NewFetcher creates a Fetcher using the given token provider.
func NewFetcher(tokens TokenProvider, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		tokens:     tokens,
		logger:     logger,
		newService: newDriveService,
	}
}

func newDriveService(ctx context.Context, tok *oauth2.Token) (*drive.Service, error) {
	return drive.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
}

// ExtractFileID resolves a manifest reference to a Drive file id. Both
// shared-URL forms are accepted as well as a bare file id.
func ExtractFileID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty Drive reference", domain.ErrNotFound)
	}

	if idx := strings.Index(ref, "/file/d/"); idx >= 0 {
		rest := ref[idx+len("/file/d/"):]
		if end := strings.IndexAny(rest, "/?"); end >= 0 {
			rest = rest[:end]
		}
		if rest == "" {
			return "", fmt.Errorf("%w: malformed Drive URL %q", domain.ErrNotFound, ref)
		}
		return rest, nil
	}

	if idx := strings.Index(ref, "id="); idx >= 0 && strings.Contains(ref, "://") {
		rest := ref[idx+len("id="):]
		if end := strings.Index(rest, "&"); end >= 0 {
			rest = rest[:end]
		}
		if rest == "" {
			return "", fmt.Errorf("%w: malformed Drive URL %q", domain.ErrNotFound, ref)
		}
		return rest, nil
	}

	if strings.Contains(ref, "://") {
		return "", fmt.Errorf("%w: unrecognized Drive URL %q", domain.ErrNotFound, ref)
	}

	return ref, nil
}

// Fetch downloads the referenced file into dest. Errors are classified onto
// the pipeline taxonomy: a reference that does not resolve is NotFound,
// throttling is RateLimited, anything network-shaped is TransientNetwork.
func (f *Fetcher) Fetch(ctx context.Context, channelID, ref, dest string) error {
	fileID, err := ExtractFileID(ref)
	if err != nil {
		return err
	}

	err = f.download(ctx, channelID, fileID, dest)
	if err != nil && gapierr.IsUnauthorized(err) {
		// One forced token refresh, then give up.
		f.tokens.Invalidate(channelID)
		err = f.download(ctx, channelID, fileID, dest)
	}
	if err != nil {
		return err
	}

	f.logger.Info("Drive file downloaded",
		slog.String("channel_id", channelID),
		slog.String("file_id", fileID),
		slog.String("dest", dest),
	)

	return nil
}

func (f *Fetcher) download(ctx context.Context, channelID, fileID, dest string) error {
	tok, err := f.tokens.Token(ctx, channelID)
	if err != nil {
		return err
	}

	svc, err := f.newService(ctx, tok)
	if err != nil {
		return fmt.Errorf("%w: failed to create drive service: %v", domain.ErrTransientNetwork, err)
	}

	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return gapierr.Classify(err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("%w: download interrupted: %v", domain.ErrTransientNetwork, err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to flush scratch file: %w", err)
	}

	return nil
}
