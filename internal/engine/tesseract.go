/**
 * Tesseract Engine - print OCR backend
 *
 * Offline, free OCR through gosseract. Word-level spans come from
 * RIL_WORD bounding boxes; when Tesseract reports no word confidences a
 * text-quality heuristic estimates the overall confidence instead.
 */

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/docsight/recognition-service/internal/logging"
)

const tesseractEngineName = "tesseract"

// TesseractEngine handles print OCR using Tesseract
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// NewTesseractEngine creates a new Tesseract backend.
// Languages use Tesseract codes ("eng", "ara").
func NewTesseractEngine(languages []string) (*TesseractEngine, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	return &TesseractEngine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
		logger:        logging.NewLogger("TesseractEngine"),
	}, nil
}

func (t *TesseractEngine) Name() string { return tesseractEngineName }

// Capabilities reports the configured language set
func (t *TesseractEngine) Capabilities() Capabilities {
	return Capabilities{
		Languages:      append([]string(nil), t.languages...),
		MaxSizeMB:      50,
		SupportsVision: false,
		SupportsGPU:    false,
	}
}

// IsAvailable probes the local Tesseract installation
func (t *TesseractEngine) IsAvailable(ctx context.Context) bool {
	client := t.clientFactory()
	defer client.Close()

	version := client.Version()
	if version == "" {
		t.logger.Warn("Tesseract probe returned no version")
		return false
	}
	return true
}

// Recognize performs OCR on the input image
func (t *TesseractEngine) Recognize(ctx context.Context, input []byte, language string, options map[string]string) (*Result, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := t.clientFactory()
	defer client.Close()

	langs := t.languages
	if language != "" {
		langs = []string{language}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}

	if dpi, ok := options["dpi"]; ok {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), dpi); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}

	if err := client.SetImageFromBytes(input); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	text = strings.TrimSpace(text)

	spans, avgConfidence := t.extractSpans(client)
	if avgConfidence == 0 {
		avgConfidence = calculateTesseractConfidence(text)
	}

	return &Result{
		Engine:     tesseractEngineName,
		Text:       text,
		Confidence: avgConfidence,
		Spans:      spans,
		Duration:   time.Since(startTime),
	}, nil
}

// extractSpans pulls word-level boxes and confidences from the client
func (t *TesseractEngine) extractSpans(client *gosseract.Client) ([]Span, float64) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	spans := make([]Span, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		spans = append(spans, Span{
			Text:       b.Word,
			Confidence: conf,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}

	return spans, sum / float64(len(spans))
}

// calculateTesseractConfidence estimates confidence based on text quality
func calculateTesseractConfidence(text string) float64 {
	confidence := 0.5 // Base confidence

	// Check text length
	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(text) > 5000 {
		confidence += 0.1
	}

	// Check for coherent words (simple heuristic)
	words := strings.Fields(text)
	if len(words) > 100 {
		confidence += 0.1
	}

	// Check for reasonable character distribution
	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	if len(text) > 0 {
		alphaRatio := float64(alphaCount) / float64(len(text))
		if alphaRatio > 0.5 && alphaRatio < 0.9 {
			confidence += 0.1
		}
	}

	// Cap at reasonable maximum for Tesseract
	if confidence > 0.85 {
		confidence = 0.85
	}

	return confidence
}
