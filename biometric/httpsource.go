package biometric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPFrameSource captures frames from a local camera capture service that
// serves JPEG snapshots. Acquire claims the device; the service reports a
// busy or blocked device with a conflict status.
type HTTPFrameSource struct {
	h    *http.Client
	base string
}

// NewHTTPFrameSource creates a frame source backed by the capture service
func NewHTTPFrameSource(baseURL string) *HTTPFrameSource {
	return &HTTPFrameSource{
		h: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Second,
		},
		base: baseURL,
	}
}

// Acquire claims the camera exclusively, mapping the service's refusal
// statuses onto the camera failure classes
func (s *HTTPFrameSource) Acquire(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/acquire", nil)
	if err != nil {
		return err
	}
	resp, err := s.h.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusNotFound:
		return ErrNoDevice
	case http.StatusConflict, http.StatusLocked:
		return ErrStartBlocked
	default:
		return fmt.Errorf("camera service returned %d", resp.StatusCode)
	}
}

// Capture fetches one encoded frame
func (s *HTTPFrameSource) Capture(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/frame", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.h.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera service returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Release frees the device. Safe to call on every verification exit path.
func (s *HTTPFrameSource) Release() {
	req, err := http.NewRequest(http.MethodPost, s.base+"/release", nil)
	if err != nil {
		return
	}
	resp, err := s.h.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
