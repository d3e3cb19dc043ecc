package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/storage"
)

var nop = zerolog.Nop()

func geminiServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func inlineBody(img []byte) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":%q}}]}}]}`,
		base64.StdEncoding.EncodeToString(img))
}

func TestHTTPProvider_ExtractsInlineImage(t *testing.T) {
	img := []byte("real image bytes")
	srv := geminiServer(t, http.StatusOK, inlineBody(img), nil)
	p := NewHTTPProvider(HTTPOptions{APIKey: "test-key", BaseURL: srv.URL, Model: "m"})

	got, err := p.Generate(context.Background(), "a prompt")
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestHTTPProvider_FailureReasons(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"non-2xx", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, ReasonHTTPStatus},
		{"not json", http.StatusOK, `<html>`, ReasonMalformed},
		{"no image", http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"sorry"}]},"finishReason":"SAFETY"}]}`, ReasonEmpty},
		{"bad base64", http.StatusOK, `{"candidates":[{"content":{"parts":[{"inline_data":{"data":"@@@"}}]}}]}`, ReasonMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := geminiServer(t, tc.status, tc.body, nil)
			p := NewHTTPProvider(HTTPOptions{APIKey: "test-key", BaseURL: srv.URL})

			_, err := p.Generate(context.Background(), "x")
			require.ErrorIs(t, err, domain.ErrUpstreamGeneration)
			var ue *domain.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tc.reason, ue.Reason)
		})
	}
}

func TestHTTPProvider_MissingKey(t *testing.T) {
	p := NewHTTPProvider(HTTPOptions{})
	assert.False(t, p.Configured())
	_, err := p.Generate(context.Background(), "x")
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, ReasonMissingCredentials, ue.Reason)
}

func TestPlaceholder_DeterministicPNG(t *testing.T) {
	p := NewPlaceholder(64)
	a, err := p.Render("lotus motif")
	require.NoError(t, err)
	b, err := p.Render("lotus motif")
	require.NoError(t, err)
	c, err := p.Render("kawung motif")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	cfg, err := png.DecodeConfig(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)
}

func TestClient_NoCredentialsFallsBack(t *testing.T) {
	store := storage.NewMemoryStore("")
	c := NewClient(NewHTTPProvider(HTTPOptions{}), store, Options{PlaceholderSize: 32, Logger: &nop})

	ref, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationFallback, ref.Kind)
	assert.Equal(t, ReasonMissingCredentials, ref.FallbackReason)
	assert.Len(t, ref.Digest, 64)
	assert.Equal(t, 1, store.Len())

	again, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, ref.URL, again.URL, "fallback output is deterministic")
}

func TestClient_RealGeneration(t *testing.T) {
	img := []byte("provider bytes")
	srv := geminiServer(t, http.StatusOK, inlineBody(img), nil)
	store := storage.NewMemoryStore("")
	c := NewClient(NewHTTPProvider(HTTPOptions{APIKey: "test-key", BaseURL: srv.URL}), store, Options{Logger: &nop})

	res, err := c.Produce(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationReal, res.Kind)
	assert.Equal(t, img, res.Bytes)
	assert.Empty(t, res.FallbackReason)

	ref, err := c.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, storage.Digest(img), ref.Digest)
}

func TestClient_ProviderTimeoutFallsBack(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewClient(slow, storage.NewMemoryStore(""), Options{Timeout: 20 * time.Millisecond, PlaceholderSize: 16, Logger: &nop})

	res, err := c.Produce(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationFallback, res.Kind)
	assert.Equal(t, ReasonTimeout, res.FallbackReason)
}

func TestClient_ProviderErrorFallsBack(t *testing.T) {
	var hits int32
	srv := geminiServer(t, http.StatusInternalServerError, `oops`, &hits)
	c := NewClient(NewHTTPProvider(HTTPOptions{APIKey: "test-key", BaseURL: srv.URL}), storage.NewMemoryStore(""), Options{PlaceholderSize: 16, Logger: &nop})

	res, err := c.Produce(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationFallback, res.Kind)
	assert.Equal(t, ReasonHTTPStatus, res.FallbackReason)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestClient_ParentCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := ProviderFunc(func(pctx context.Context, _ string) ([]byte, error) {
		cancel()
		<-pctx.Done()
		return nil, pctx.Err()
	})
	c := NewClient(blocking, storage.NewMemoryStore(""), Options{Logger: &nop})

	_, err := c.Generate(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{}

func (failingStore) Store(context.Context, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestClient_StorageFailureIsTerminal(t *testing.T) {
	c := NewClient(nil, failingStore{}, Options{PlaceholderSize: 16, Logger: &nop})

	_, err := c.Generate(context.Background(), "p")
	require.ErrorIs(t, err, domain.ErrStorage)
	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "bucket unavailable")
}
