/**
 * Vision Client - vision-LLM recognition backend
 *
 * Talks to a vision-LLM inference server over HTTP. The server picks the
 * concrete model; this client only ships the image and reads back text,
 * confidence and the model that produced it.
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

// VisionClient handles communication with the vision-LLM inference server
type VisionClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VisionRequest represents a request to extract text from an image
type VisionRequest struct {
	Image          string                 `json:"image"`  // Base64 encoded image
	Format         string                 `json:"format"` // "base64" or "url"
	PreferAccuracy bool                   `json:"preferAccuracy"`
	Language       string                 `json:"language"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	RequestID      string                 `json:"requestId,omitempty"`
}

// VisionResponse represents a response from the vision endpoint
type VisionResponse struct {
	Success bool       `json:"success"`
	Data    VisionData `json:"data"`
	Message string     `json:"message"`
}

// VisionData contains the extracted text and metadata
type VisionData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// NewVisionClient creates a new vision backend client
func NewVisionClient(baseURL string) *VisionClient {
	return &VisionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("VisionClient"),
	}
}

// ExtractText extracts text from an image via the vision server
func (c *VisionClient) ExtractText(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	c.logger.Info("Requesting text extraction from vision server",
		"preferAccuracy", req.PreferAccuracy,
		"language", req.Language,
		"imageSize", len(req.Image))

	endpoint := fmt.Sprintf("%s/api/v1/vision/extract-text", c.baseURL)

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
		return nil, fmt.Errorf("request to vision server failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision server returned error status %d: %s", resp.StatusCode, string(body))
	}

	var visionResp VisionResponse
	if err := json.Unmarshal(body, &visionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !visionResp.Success {
		return nil, fmt.Errorf("vision server operation failed: %s", visionResp.Message)
	}

	c.logger.Info("Text extraction complete",
		"modelUsed", visionResp.Data.ModelUsed,
		"confidence", visionResp.Data.Confidence,
		"processingTime", visionResp.Data.ProcessingTime,
		"textLength", len(visionResp.Data.Text))

	return &visionResp, nil
}

// ExtractTextFromBytes is a convenience method that handles base64 encoding
func (c *VisionClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*VisionResponse, error) {
	req := &VisionRequest{
		Image:          base64.StdEncoding.EncodeToString(imageData),
		Format:         "base64",
		PreferAccuracy: preferAccuracy,
		Language:       language,
		Metadata: map[string]interface{}{
			"source":    "recognition-service",
			"timestamp": time.Now().Unix(),
		},
	}

	return c.ExtractText(ctx, req)
}

// HealthCheck verifies the vision server is reachable
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vision server health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vision server unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
