/**
 * Engine contract - shared types for recognition backends
 *
 * Every backend (Tesseract, handwriting server, vision LLM) is consumed
 * only through this contract; wire protocols stay inside internal/clients.
 */

package engine

import (
	"context"
	"time"
)

// Capabilities describes what a backend can handle
type Capabilities struct {
	Languages      []string // empty means any language
	MaxSizeMB      int
	SupportsVision bool
	SupportsGPU    bool
}

// SupportsLanguage reports whether the backend can process the given language
func (c Capabilities) SupportsLanguage(language string) bool {
	if language == "" || len(c.Languages) == 0 {
		return true
	}
	for _, l := range c.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Span represents a recognized fragment with its location
type Span struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// Result represents one backend's output for one input
type Result struct {
	Engine        string        `json:"engine"`
	Text          string        `json:"text"`
	CorrectedText string        `json:"correctedText,omitempty"`
	Confidence    float64       `json:"confidence"`
	Spans         []Span        `json:"spans,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Engine is a registered recognition backend
type Engine interface {
	Name() string
	Capabilities() Capabilities
	IsAvailable(ctx context.Context) bool
	Recognize(ctx context.Context, input []byte, language string, options map[string]string) (*Result, error)
}

// Factory constructs a backend instance. The registry invokes it lazily on
// first use and caches only successful outcomes.
type Factory func() (Engine, error)
