// Package gapierr maps Google API call failures onto the pipeline's error
// taxonomy so the dispatcher's retry loop can decide what is worth retrying.
package gapierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"vod-publisher/internal/domain"
)

// 403s from the YouTube and Drive APIs are only retryable when the reason is
// a quota or rate limit; every other 403 is a hard authorization problem.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"uploadLimitExceeded":   true,
}

// Classify wraps err with the matching domain sentinel. The original error
// text is preserved for logs; callers branch on the sentinel only.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	// Unrecognized failure: treat as transient so a flaky transport layer
	// does not permanently fail jobs, bounded by the retry budget.
	return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
}

func classifyAPI(apiErr *googleapi.Error) error {
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, apiErr)
	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if rateLimitReasons[item.Reason] {
				return fmt.Errorf("%w: %v", domain.ErrRateLimited, apiErr)
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, apiErr)
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", domain.ErrNotFound, apiErr)
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, apiErr)
	case apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, apiErr)
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, apiErr)
	}
}

// IsUnauthorized reports whether err classified as a credential failure.
// The publishing client uses this for its single token-refresh retry.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
