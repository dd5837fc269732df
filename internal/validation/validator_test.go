package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/livereload/internal/errors"
	"github.com/listenupapp/livereload/internal/validation"
)

type testRequest struct {
	Category     string  `json:"category" validate:"omitempty,category"`
	RelativePath string  `json:"relative_path" validate:"required,max=4096"`
	AbsolutePath string  `json:"absolute_path" validate:"required,abspath"`
	MTime        float64 `json:"mtime" validate:"gte=0"`
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Validate(testRequest{
		Category:     "stylesheet",
		RelativePath: "css/site.css",
		AbsolutePath: "/srv/site/css/site.css",
	}))

	assert.NoError(t, v.Validate(testRequest{
		RelativePath: "app.js",
		AbsolutePath: "/srv/site/app.js",
		MTime:        1700000000.25,
	}), "category is optional")
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		req       testRequest
		wantField string
		wantMsg   string
	}{
		{
			name:      "missing relative path",
			req:       testRequest{AbsolutePath: "/srv/a.css"},
			wantField: "relative_path",
			wantMsg:   "is required",
		},
		{
			name:      "relative absolute path",
			req:       testRequest{RelativePath: "a.css", AbsolutePath: "a.css"},
			wantField: "absolute_path",
			wantMsg:   "must be an absolute path",
		},
		{
			name:      "unknown category",
			req:       testRequest{Category: "video", RelativePath: "a.mp4", AbsolutePath: "/srv/a.mp4"},
			wantField: "category",
			wantMsg:   "must be a known asset category",
		},
		{
			name:      "negative mtime",
			req:       testRequest{RelativePath: "a.css", AbsolutePath: "/srv/a.css", MTime: -1},
			wantField: "mtime",
			wantMsg:   "must be greater than or equal to 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)

			var domainErr *domainerrors.Error
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())

			details, ok := domainErr.Details.(map[string]string)
			require.True(t, ok, "details should be a field map")
			assert.Equal(t, tt.wantMsg, details[tt.wantField])
		})
	}
}
