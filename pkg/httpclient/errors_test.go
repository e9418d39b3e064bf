package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func envelope(code, message string) string {
	return `{"error":{"code":"` + code + `","message":"` + message + `"}}`
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantIs     error
		wantStatus int
		wantCode   string
		wantText   string
	}{
		{
			name:       "not found",
			status:     http.StatusNotFound,
			body:       envelope("NOT_FOUND", "p-404"),
			wantIs:     apperrors.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "bad request",
			status:     http.StatusBadRequest,
			body:       envelope("INVALID_INPUT", "size must be <= 100"),
			wantIs:     apperrors.ErrInvalidInput,
			wantStatus: http.StatusBadRequest,
			wantText:   "product: size must be <= 100",
		},
		{
			name:       "conflict",
			status:     http.StatusConflict,
			body:       envelope("CONFLICT", "version mismatch"),
			wantIs:     apperrors.ErrConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unavailable keeps downstream code",
			status:     http.StatusServiceUnavailable,
			body:       envelope("MAINTENANCE", "read-only window"),
			wantIs:     apperrors.ErrServiceUnavail,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "MAINTENANCE",
		},
		{
			name:       "other client error keeps status",
			status:     http.StatusUnprocessableEntity,
			body:       envelope("UNPROCESSABLE", "bad cursor"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "UNPROCESSABLE",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     envelope("INTERNAL_ERROR", "db down"),
			wantText: "product server error (500/INTERNAL_ERROR): db down",
		},
		{
			name:     "unstructured body",
			status:   http.StatusBadGateway,
			body:     "<html>bad gateway</html>",
			wantText: "product returned status 502: <html>bad gateway</html>",
		},
		{
			name:     "json without error field",
			status:   http.StatusBadRequest,
			body:     `{"data":null}`,
			wantText: `product returned status 400: {"data":null}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := &trackingBody{Reader: strings.NewReader(tt.body)}
			err := ParseResponseError(&http.Response{StatusCode: tt.status, Body: body}, "product")
			require.Error(t, err)
			assert.True(t, body.closed)

			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			var appErr *apperrors.AppError
			if tt.wantStatus != 0 {
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.wantStatus, appErr.Status)
			} else {
				assert.False(t, errors.As(err, &appErr))
			}
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, appErr.Code)
			}
			if tt.wantText != "" {
				assert.Contains(t, err.Error(), tt.wantText)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(http.StatusNotFound))
	assert.True(t, IsClientError(http.StatusTooManyRequests))
	assert.False(t, IsClientError(http.StatusOK))
	assert.False(t, IsClientError(http.StatusBadGateway))
}
