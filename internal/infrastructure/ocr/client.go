// Package ocr talks to the OCR sidecar service used for scanned
// documents. The service accepts raw image or PDF bytes and returns
// the recognized text with a per-page confidence.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

func New(baseURL, language string) *Client {
	if language == "" {
		language = "fra"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type Result struct {
	Text       string  `json:"text"`
	Pages      int     `json:"pages"`
	Confidence float64 `json:"confidence"`
}

// Recognize sends the document bytes for recognition. mimeType tells
// the service how to rasterize the payload.
func (c *Client) Recognize(ctx context.Context, payload []byte, mimeType string) (Result, error) {
	url := fmt.Sprintf("%s/v1/recognize?lang=%s", c.baseURL, c.language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create recognize request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ocr recognize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, &HTTPStatusError{
			Operation:  "recognize",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode recognize response: %w", err)
	}
	return result, nil
}

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ocr status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ocr %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ocr %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}
