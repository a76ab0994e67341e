package gapierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"vod-publisher/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "401 is unauthorized",
			err:  &googleapi.Error{Code: http.StatusUnauthorized},
			want: domain.ErrUnauthorized,
		},
		{
			name: "403 quota is rate limited",
			err: &googleapi.Error{
				Code:   http.StatusForbidden,
				Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}},
			},
			want: domain.ErrRateLimited,
		},
		{
			name: "403 upload limit is rate limited",
			err: &googleapi.Error{
				Code:   http.StatusForbidden,
				Errors: []googleapi.ErrorItem{{Reason: "uploadLimitExceeded"}},
			},
			want: domain.ErrRateLimited,
		},
		{
			name: "plain 403 is unauthorized",
			err:  &googleapi.Error{Code: http.StatusForbidden},
			want: domain.ErrUnauthorized,
		},
		{
			name: "404 is not found",
			err:  &googleapi.Error{Code: http.StatusNotFound},
			want: domain.ErrNotFound,
		},
		{
			name: "429 is rate limited",
			err:  &googleapi.Error{Code: http.StatusTooManyRequests},
			want: domain.ErrRateLimited,
		},
		{
			name: "500 is transient",
			err:  &googleapi.Error{Code: http.StatusInternalServerError},
			want: domain.ErrTransientNetwork,
		},
		{
			name: "400 is invalid request",
			err:  &googleapi.Error{Code: http.StatusBadRequest},
			want: domain.ErrInvalidRequest,
		},
		{
			name: "wrapped api error still classifies",
			err:  fmt.Errorf("upload failed: %w", &googleapi.Error{Code: http.StatusNotFound}),
			want: domain.ErrNotFound,
		},
		{
			name: "deadline exceeded is transient",
			err:  context.DeadlineExceeded,
			want: domain.ErrTransientNetwork,
		},
		{
			name: "unknown error is transient",
			err:  errors.New("connection reset by peer"),
			want: domain.ErrTransientNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}
