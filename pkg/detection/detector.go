// Package detection locates the primary subject of a photo with a vision
// model. Its result drives model-based crop suggestions.
package detection

import (
	"context"
	"math"
	"strings"

	"github.com/menta2k/photo-album/pkg/client"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// DefaultPrompt asks for one normalized subject box as strict JSON
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (max 20 words)",
  "tags": ["tag1", "tag2", "tag3", "tag4", "tag5"]
}

RULES
- All coordinates are normalized to [0,1], not pixels.
- The box should tightly include the visually dominant subject (prefer people, animals, vehicles; else the most central salient object).
- The photo will be cropped for an album cover, so favour the subject a viewer would frame.
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50},"cx":0.5,"cy":0.5},
    "description":"centered generic scene",
    "tags":["generic","center","subject","photo","scene"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// NoSubject is the label of results that carry no usable subject
const NoSubject = "none"

const maxTags = 5

// labels and descriptions containing these words are backend fallbacks
var fallbackMarkers = []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "no json", "generic"}

// Detector asks a vision client for the primary subject
type Detector struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewDetector creates a detector for the given model using DefaultPrompt.
func NewDetector(c client.VisionClient, model string) *Detector {
	return &Detector{client: c, model: model, prompt: DefaultPrompt}
}

// WithPrompt returns a copy of d that sends prompt instead of DefaultPrompt.
func (d *Detector) WithPrompt(prompt string) *Detector {
	cp := *d
	cp.prompt = prompt
	return &cp
}

// Prompt returns the prompt sent with every image
func (d *Detector) Prompt() string {
	return d.prompt
}

// Model returns the model name sent to the backend
func (d *Detector) Model() string {
	return d.model
}

// DetectSubject returns the primary subject of a base64-encoded image with
// its box clamped to [0,1]. Backend fallbacks are relabelled NoSubject.
func (d *Detector) DetectSubject(ctx context.Context, imageB64 string) (*types.AnalysisResult, error) {
	if imageB64 == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "image is required")
	}
	result, err := d.client.AnalyzeImage(ctx, d.model, d.prompt, imageB64)
	if err != nil {
		return nil, err
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	return markFallback(result), nil
}

// HasSubject reports whether r names a real subject with a non-empty box
func HasSubject(r *types.AnalysisResult) bool {
	return r != nil && r.Primary.Label != NoSubject && r.Primary.Box.W > 0 && r.Primary.Box.H > 0
}

func markFallback(r *types.AnalysisResult) *types.AnalysisResult {
	label := strings.ToLower(r.Primary.Label)
	if label == NoSubject {
		r.Primary.Label = NoSubject
		return r
	}
	desc := strings.ToLower(r.Description)
	for _, m := range fallbackMarkers {
		if strings.Contains(label, m) || strings.Contains(desc, m) {
			r.Primary.Label = NoSubject
			r.Primary.Confidence = 0
			break
		}
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// normalizeBox clamps the box to the unit square, shrinking it if it
// runs off the right or bottom edge.
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags lowercases, dedupes and caps the tag list
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, maxTags)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
