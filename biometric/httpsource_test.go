package biometric

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFrameSourceAcquireStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"granted", http.StatusOK, nil},
		{"permission denied", http.StatusForbidden, ErrPermissionDenied},
		{"no device", http.StatusNotFound, ErrNoDevice},
		{"busy", http.StatusConflict, ErrStartBlocked},
		{"locked", http.StatusLocked, ErrStartBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/acquire", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPFrameSource(srv.URL).Acquire(context.Background())
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestHTTPFrameSourceCaptureAndRelease(t *testing.T) {
	var released bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/frame":
			w.Write([]byte("jpeg-bytes"))
		case "/release":
			released = true
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewHTTPFrameSource(srv.URL)
	frame, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), frame)

	src.Release()
	assert.True(t, released)
}
