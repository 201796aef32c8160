// Package client defines the contract between subject detection and the
// vision model backends that answer it.
package client

import (
	"context"

	"github.com/menta2k/photo-album/pkg/types"
)

// VisionClient asks a multimodal model about a base64-encoded image.
type VisionClient interface {
	// AnalyzeImage sends prompt with the image and parses the model's JSON
	// answer. Unparseable answers come back as a low-confidence fallback
	// result rather than an error.
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)

	// Heartbeat checks that the backend is reachable.
	Heartbeat(ctx context.Context) error
}
