/**
 * Handwriting Engine - handwriting OCR backend
 *
 * Adapts the handwriting inference server behind the Engine contract,
 * preserving the word-level spans the server reports.
 */

package engine

import (
	"context"
	"time"

	"github.com/docsight/recognition-service/internal/clients"
	"github.com/docsight/recognition-service/internal/logging"
)

const handwritingEngineName = "handwriting"

// HandwritingEngine wraps the handwriting OCR client as a backend
type HandwritingEngine struct {
	client    *clients.HandwritingClient
	languages []string
	logger    *logging.Logger
}

// NewHandwritingEngine creates a handwriting backend against the given server URL
func NewHandwritingEngine(baseURL string, languages []string) (*HandwritingEngine, error) {
	if len(languages) == 0 {
		languages = []string{"ar", "en"}
	}
	return &HandwritingEngine{
		client:    clients.NewHandwritingClient(baseURL),
		languages: languages,
		logger:    logging.NewLogger("HandwritingEngine"),
	}, nil
}

func (h *HandwritingEngine) Name() string { return handwritingEngineName }

// Capabilities reports the server's supported languages
func (h *HandwritingEngine) Capabilities() Capabilities {
	return Capabilities{
		Languages:      append([]string(nil), h.languages...),
		MaxSizeMB:      25,
		SupportsVision: false,
		SupportsGPU:    true,
	}
}

// IsAvailable probes the handwriting server health endpoint
func (h *HandwritingEngine) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.client.HealthCheck(probeCtx); err != nil {
		h.logger.Warn("Handwriting server health check failed", "error", err)
		return false
	}
	return true
}

// Recognize sends the image to the handwriting server and adapts its response
func (h *HandwritingEngine) Recognize(ctx context.Context, input []byte, language string, options map[string]string) (*Result, error) {
	startTime := time.Now()

	resp, err := h.client.Recognize(ctx, input, language)
	if err != nil {
		return nil, err
	}

	spans := make([]Span, 0, len(resp.Data.Words))
	for _, w := range resp.Data.Words {
		spans = append(spans, Span{
			Text:       w.Text,
			Confidence: w.Confidence,
			BoundingBox: BoundingBox{
				X:      w.Box.X,
				Y:      w.Box.Y,
				Width:  w.Box.Width,
				Height: w.Box.Height,
			},
		})
	}

	return &Result{
		Engine:     handwritingEngineName,
		Text:       resp.Data.Text,
		Confidence: resp.Data.Confidence,
		Spans:      spans,
		Duration:   time.Since(startTime),
	}, nil
}
