/**
 * Vision Engine - vision-LLM recognition backend
 *
 * Adapts the vision inference server behind the Engine contract. The server
 * selects its own model; this backend only shapes requests and results.
 */

package engine

import (
	"context"
	"time"

	"github.com/docsight/recognition-service/internal/clients"
	"github.com/docsight/recognition-service/internal/logging"
)

const visionEngineName = "vision"

// VisionEngine wraps the vision-LLM client as a recognition backend
type VisionEngine struct {
	client *clients.VisionClient
	logger *logging.Logger
}

// NewVisionEngine creates a vision backend against the given server URL
func NewVisionEngine(baseURL string) (*VisionEngine, error) {
	return &VisionEngine{
		client: clients.NewVisionClient(baseURL),
		logger: logging.NewLogger("VisionEngine"),
	}, nil
}

func (v *VisionEngine) Name() string { return visionEngineName }

// Capabilities marks the backend vision-capable and language-agnostic
func (v *VisionEngine) Capabilities() Capabilities {
	return Capabilities{
		Languages:      nil, // model decides; any language accepted
		MaxSizeMB:      20,
		SupportsVision: true,
		SupportsGPU:    true,
	}
}

// IsAvailable probes the vision server health endpoint
func (v *VisionEngine) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.client.HealthCheck(probeCtx); err != nil {
		v.logger.Warn("Vision server health check failed", "error", err)
		return false
	}
	return true
}

// Recognize sends the image to the vision server and adapts its response
func (v *VisionEngine) Recognize(ctx context.Context, input []byte, language string, options map[string]string) (*Result, error) {
	startTime := time.Now()

	preferAccuracy := options["preferAccuracy"] == "true"

	resp, err := v.client.ExtractTextFromBytes(ctx, input, preferAccuracy, language)
	if err != nil {
		return nil, err
	}

	return &Result{
		Engine:     visionEngineName,
		Text:       resp.Data.Text,
		Confidence: resp.Data.Confidence,
		Duration:   time.Since(startTime),
	}, nil
}
