// Package ollama implements client.VisionClient on top of the Ollama chat API.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/photo-album/pkg/client"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// DefaultTimeout applies when the caller's context has no deadline.
// Vision models on CPU are slow.
const DefaultTimeout = 300 * time.Second

var (
	reFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Client wraps the Ollama API client
type Client struct {
	api     *api.Client
	timeout time.Duration
}

// NewClient creates a client for the server at ollamaURL. Any path on the
// URL (for example /api/chat) is ignored.
func NewClient(ollamaURL string) (*Client, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "invalid ollama url %q", ollamaURL)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Client{
		api:     api.NewClient(base, http.DefaultClient),
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout overrides DefaultTimeout
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Heartbeat checks that the Ollama server answers.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return apperr.Wrap(apperr.ErrCodeNetwork, err, "ollama heartbeat")
	}
	return nil
}

// AnalyzeImage sends the image and prompt in a single non-streaming chat
// turn and parses the reply as an AnalysisResult.
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	img, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "decode base64 image")
	}

	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{{
			Role:    "user",
			Content: prompt,
			Images:  []api.ImageData{api.ImageData(img)},
		}},
		Stream:  &stream,
		Options: modelOptions(model),
	}

	var reply strings.Builder
	err = c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeNetwork, err, "ollama chat with %s", model)
	}
	if reply.Len() == 0 {
		return nil, apperr.New(apperr.ErrCodeNetwork, "empty response from ollama")
	}
	return parseAnalysisResult(reply.String()), nil
}

// modelOptions returns sampling options tuned for known models
func modelOptions(model string) map[string]any {
	m := strings.ToLower(model)
	if strings.Contains(m, "minicpm-v4") || strings.Contains(m, "minicpm-v-4") || strings.Contains(m, "minicpmv4") {
		return map[string]any{"temperature": 0.7, "top_p": 0.8, "num_ctx": 4096}
	}
	return map[string]any{}
}

// parseAnalysisResult never fails: replies that are not JSON become a
// centered low-confidence fallback the detector recognises.
func parseAnalysisResult(raw string) *types.AnalysisResult {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return fallback("unclear image", "Model returned non-JSON response", "unclear", "non-json", "fallback")
	}
	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return fallback("parse error", "Failed to parse model response", "parse-error", "fallback")
	}
	return &result
}

func fallback(label, description string, tags ...string) *types.AnalysisResult {
	return &types.AnalysisResult{
		Primary: types.Primary{
			Label:      label,
			Confidence: 0.1,
			Box:        types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			Cx:         0.5,
			Cy:         0.5,
		},
		Description: description,
		Tags:        tags,
	}
}

// sanitizeModelJSON strips code fences, comments and trailing commas and
// keeps the outermost {...}.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := reFence.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")
	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

var _ client.VisionClient = (*Client)(nil)
