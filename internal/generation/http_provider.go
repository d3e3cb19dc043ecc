package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash-preview-image-generation"

	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 32 << 20
)

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// HTTPProvider calls a Gemini-style generateContent endpoint and returns the
// first inline image in the response.
type HTTPProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPProvider applies defaults to opts. The HTTP client carries no
// timeout of its own; the Client bounds each call through the context.
func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	return &HTTPProvider{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    base,
		model:      model,
		httpClient: hc,
	}
}

// Model returns the configured model id.
func (p *HTTPProvider) Model() string { return p.model }

// Configured reports whether credentials are present.
func (p *HTTPProvider) Configured() bool { return p.apiKey != "" }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

// Generate implements Provider.
func (p *HTTPProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if p.apiKey == "" {
		return nil, &domain.UpstreamError{Reason: ReasonMissingCredentials}
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			CandidateCount:     1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &domain.UpstreamError{Reason: ReasonTimeout, Err: err}
		}
		return nil, &domain.UpstreamError{Reason: ReasonTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &domain.UpstreamError{Reason: ReasonTimeout, Err: err}
		}
		return nil, &domain.UpstreamError{Reason: ReasonTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &domain.UpstreamError{
			Reason: ReasonHTTPStatus,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}

	return extractImage(raw)
}

// extractImage returns the first inline image of the first candidate that
// carries one. Both camelCase and snake_case field spellings are accepted.
func extractImage(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &domain.UpstreamError{Reason: ReasonMalformed, Err: errors.New("invalid JSON")}
	}
	var (
		encoded string
		found   bool
	)
	gjson.GetBytes(raw, "candidates").ForEach(func(_, cand gjson.Result) bool {
		cand.Get("content.parts").ForEach(func(_, pt gjson.Result) bool {
			data := pt.Get("inlineData.data")
			if !data.Exists() {
				data = pt.Get("inline_data.data")
			}
			if data.Exists() && data.String() != "" {
				encoded = data.String()
				found = true
				return false
			}
			return true
		})
		return !found
	})
	if !found {
		reason := gjson.GetBytes(raw, "candidates.0.finishReason").String()
		if reason == "" {
			reason = gjson.GetBytes(raw, "promptFeedback.blockReason").String()
		}
		return nil, &domain.UpstreamError{Reason: ReasonEmpty, Err: fmt.Errorf("no inline image (finish reason %q)", reason)}
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &domain.UpstreamError{Reason: ReasonMalformed, Err: fmt.Errorf("decode inline data: %w", err)}
	}
	if len(img) == 0 {
		return nil, &domain.UpstreamError{Reason: ReasonEmpty}
	}
	return img, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

var _ Provider = (*HTTPProvider)(nil)
