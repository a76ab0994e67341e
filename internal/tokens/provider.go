package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"vod-publisher/internal/domain"
)

// OAuth scopes the pipeline needs: uploading and mutating videos, plus
// read-only access to the Drive files referenced by manifests.
var scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube",
	"https://www.googleapis.com/auth/drive.readonly",
}

// expiryMargin is how long before the recorded expiry a cached token is
// considered stale.
const expiryMargin = 30 * time.Second

// CredentialSource loads the stored OAuth grant for a channel.
type CredentialSource interface {
	GetCredential(ctx context.Context, channelID string) (*domain.ChannelCredential, error)
}

// Provider exchanges stored refresh tokens for fresh access tokens, one per
// channel. Every external API call asks for a token at call time; the
// provider keeps a short-lived cache so that does not mean one token
// exchange per call, and deduplicates concurrent refreshes for the same
// channel so at most one exchange is in flight per channel.
type Provider struct {
	creds  CredentialSource
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*oauth2.Token
	group singleflight.Group

	// newSource is swapped out in tests.
	newSource func(ctx context.Context, cred *domain.ChannelCredential) oauth2.TokenSource
}

// NewProvider creates a Provider backed by the given credential source.
func NewProvider(creds CredentialSource, logger *slog.Logger) *Provider {
	return &Provider{
		creds:     creds,
		logger:    logger,
		cache:     make(map[string]*oauth2.Token),
		newSource: googleTokenSource,
	}
}

func googleTokenSource(ctx context.Context, cred *domain.ChannelCredential) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
}

// Token returns a valid access token for the channel, refreshing it through
// the OAuth token endpoint when the cached one is missing or about to
// expire.
func (p *Provider) Token(ctx context.Context, channelID string) (*oauth2.Token, error) {
	p.mu.Lock()
	cached, ok := p.cache[channelID]
	p.mu.Unlock()

	if ok && cached.Expiry.After(time.Now().Add(expiryMargin)) {
		return cached, nil
	}

	result, err, _ := p.group.Do(channelID, func() (interface{}, error) {
		return p.refresh(ctx, channelID)
	})
	if err != nil {
		return nil, err
	}

	return result.(*oauth2.Token), nil
}

func (p *Provider) refresh(ctx context.Context, channelID string) (*oauth2.Token, error) {
	// Re-check the cache: another caller may have refreshed while this one
	// waited on the singleflight lock.
	p.mu.Lock()
	cached, ok := p.cache[channelID]
	p.mu.Unlock()
	if ok && cached.Expiry.After(time.Now().Add(expiryMargin)) {
		return cached, nil
	}

	cred, err := p.creds.GetCredential(ctx, channelID)
	if err != nil {
		return nil, err
	}

	tok, err := p.newSource(ctx, cred).Token()
	if err != nil {
		return nil, classifyRefreshError(channelID, err)
	}

	p.mu.Lock()
	p.cache[channelID] = tok
	p.mu.Unlock()

	p.logger.Debug("Access token refreshed",
		slog.String("channel_id", channelID),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// Invalidate drops the cached token for a channel. The publishing client
// calls this after a 401 so its single retry goes through a forced refresh.
func (p *Provider) Invalidate(channelID string) {
	p.mu.Lock()
	delete(p.cache, channelID)
	p.mu.Unlock()
}

func classifyRefreshError(channelID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			// invalid_grant and friends: the stored refresh token is no
			// longer usable.
			return fmt.Errorf("%w: token refresh rejected for channel %s: %v", domain.ErrUnauthorized, channelID, err)
		default:
			return fmt.Errorf("%w: token refresh failed for channel %s: %v", domain.ErrTransientNetwork, channelID, err)
		}
	}
	return fmt.Errorf("%w: token refresh failed for channel %s: %v", domain.ErrTransientNetwork, channelID, err)
}
