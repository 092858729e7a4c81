package biometric

import (
	"context"
	"errors"
	"time"
)

// Camera failure classes. Each maps to a distinct operator-facing message on
// the payment terminal; ErrStartBlocked additionally requires an explicit
// operator gesture before the capture may be retried.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device found")
	ErrStartBlocked     = errors.New("camera start blocked, retry requires an explicit operator action")
	ErrNoFrames         = errors.New("no frames captured")
)

// FrameSource is an exclusively-held camera device delivering encoded frames.
// Release must be safe to call on every exit path of the verification step.
type FrameSource interface {
	Acquire(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
	Release()
}

const (
	burstSize     = 5
	frameInterval = 200 * time.Millisecond
)

// CaptureBurst grabs a fixed-size burst from an already-acquired source.
// Individual frame failures are tolerated; an empty burst fails with
// ErrNoFrames before any verifier call is made. Progress covers the first
// half of the verification progress range (0-50%).
func CaptureBurst(ctx context.Context, src FrameSource, progress func(pct int)) ([][]byte, error) {
	frames := make([][]byte, 0, burstSize)
	for i := 0; i < burstSize; i++ {
		if i > 0 {
			select {
			case <-time.After(frameInterval):
			case <-ctx.Done():
				if len(frames) == 0 {
					return nil, ErrNoFrames
				}
				return frames, nil
			}
		}
		frame, err := src.Capture(ctx)
		if err == nil && len(frame) > 0 {
			frames = append(frames, frame)
		}
		if progress != nil {
			progress((i + 1) * 50 / burstSize)
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}
