package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"voucherpoint/models"
)

// frameField is the multipart field name every frame is submitted under
const frameField = "files"

// identifyTimeout bounds the whole verification call; an expired call is a
// failed attempt, never retried here.
const identifyTimeout = 100 * time.Second

// Verifier matches a burst of captured frames against enrolled recipients
type Verifier interface {
	Identify(ctx context.Context, frames [][]byte) (models.VerificationResult, error)
}

// Client calls the biometric verification service
type Client struct {
	h      *http.Client
	base   string
	logger *zap.Logger
}

// NewClient creates a verifier client with the fixed identification timeout
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		h: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   identifyTimeout,
		},
		base:   baseURL,
		logger: logger,
	}
}

type identifyMatch struct {
	RecipientID string  `json:"recipient_id"`
	PublicKey   string  `json:"public_key"`
	Score       float64 `json:"score"`
}

type identifyResponse struct {
	Matches []identifyMatch `json:"matches"`
}

// Identify submits all frames as one multipart batch and returns the top
// ranked match. An empty match list is a no-match result, not an error.
func (c *Client) Identify(ctx context.Context, frames [][]byte) (models.VerificationResult, error) {
	if len(frames) == 0 {
		return models.VerificationResult{}, ErrNoFrames
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for i, frame := range frames {
		part, err := w.CreateFormFile(frameField, fmt.Sprintf("frame_%d.jpg", i))
		if err != nil {
			return models.VerificationResult{}, err
		}
		if _, err := part.Write(frame); err != nil {
			return models.VerificationResult{}, err
		}
	}
	if err := w.Close(); err != nil {
		return models.VerificationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/face/identify", c.base), &body)
	if err != nil {
		return models.VerificationResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.h.Do(req)
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("verification call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return models.VerificationResult{}, fmt.Errorf("verification service returned %d: %s", resp.StatusCode, string(b))
	}

	var out identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.VerificationResult{}, err
	}

	if len(out.Matches) == 0 {
		return models.VerificationResult{Success: false}, nil
	}

	top := out.Matches[0]
	c.logger.Info("Biometric match found",
		zap.String("recipient_id", top.RecipientID),
		zap.Float64("score", top.Score),
	)
	return models.VerificationResult{
		Success:     true,
		RecipientID: top.RecipientID,
		PublicKey:   top.PublicKey,
	}, nil
}
