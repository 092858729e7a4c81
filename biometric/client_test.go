package biometric

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIdentifySubmitsOneMultipartBatch(t *testing.T) {
	var gotFrames int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/face/identify", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1 << 20))
		files := r.MultipartForm.File[frameField]
		gotFrames = len(files)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matches":[{"recipient_id":"rec_42","public_key":"ED0102","score":0.97},{"recipient_id":"rec_7","public_key":"ED0304","score":0.41}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	result, err := c.Identify(context.Background(), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	assert.Equal(t, 3, gotFrames)
	assert.True(t, result.Success)
	assert.Equal(t, "rec_42", result.RecipientID)
	assert.Equal(t, "ED0102", result.PublicKey)
}

func TestIdentifyNoMatchIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matches":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	result, err := c.Identify(context.Background(), [][]byte{[]byte("a")})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.RecipientID)
}

func TestIdentifyServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Identify(context.Background(), [][]byte{[]byte("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestIdentifyEmptyBurst(t *testing.T) {
	c := NewClient("http://unused", zap.NewNop())
	_, err := c.Identify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFrames)
}
