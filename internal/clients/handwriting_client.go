/**
 * Handwriting Client - handwriting OCR inference server
 *
 * Talks to a local handwriting recognition server over HTTP. Unlike the
 * vision backend, this server returns word-level spans with bounding boxes.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docsight/recognition-service/internal/logging"
)

// HandwritingClient handles communication with the handwriting OCR server
type HandwritingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// HandwritingRequest represents a handwriting recognition request
type HandwritingRequest struct {
	Image    string `json:"image"` // Base64 encoded image
	Language string `json:"language"`
}

// HandwritingResponse represents a response from the recognition endpoint
type HandwritingResponse struct {
	Success bool            `json:"success"`
	Data    HandwritingData `json:"data"`
	Message string          `json:"message"`
}

// HandwritingData contains recognized text with word-level spans
type HandwritingData struct {
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Words      []HandwritingWord `json:"words"`
}

// HandwritingWord is one recognized word with its bounding box
type HandwritingWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"box"`
}

// NewHandwritingClient creates a new handwriting OCR client
func NewHandwritingClient(baseURL string) *HandwritingClient {
	return &HandwritingClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logging.NewLogger("HandwritingClient"),
	}
}

// Recognize runs handwriting recognition on an image
func (c *HandwritingClient) Recognize(ctx context.Context, imageData []byte, language string) (*HandwritingResponse, error) {
	c.logger.Info("Requesting handwriting recognition",
		"language", language,
		"imageBytes", len(imageData))

	endpoint := fmt.Sprintf("%s/api/v1/recognize", c.baseURL)

	req := &HandwritingRequest{
		Image:    base64.StdEncoding.EncodeToString(imageData),
		Language: language,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "recognition-service")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to handwriting server failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("handwriting server returned error status %d: %s", resp.StatusCode, string(body))
	}

	var hwResp HandwritingResponse
	if err := json.Unmarshal(body, &hwResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !hwResp.Success {
		return nil, fmt.Errorf("handwriting recognition failed: %s", hwResp.Message)
	}

	c.logger.Info("Handwriting recognition complete",
		"confidence", hwResp.Data.Confidence,
		"words", len(hwResp.Data.Words),
		"textLength", len(hwResp.Data.Text))

	return &hwResp, nil
}

// HealthCheck verifies the handwriting server is reachable
func (c *HandwritingClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("handwriting server health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("handwriting server unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
