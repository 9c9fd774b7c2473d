// Package extraction is the AI boundary of the pipeline. It sends
// document text to the structured-extraction service and turns the
// schema-validated response into candidate entries. The service is a
// black box behind HTTP; everything after the response body is local.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chunkResponse struct {
	Entries []wireEntry `json:"entries"`
}

type wireEntry struct {
	Form         string  `json:"form"`
	Code         string  `json:"code"`
	Description  string  `json:"description"`
	Value        string  `json:"value"`
	Currency     string  `json:"currency"`
	AccountGroup int      `json:"account_group"`
	Confidence   *float64 `json:"confidence"`
}

// extractChunk runs one structured-extraction call and returns the raw
// decoded entries. The response text is schema-validated before decode
// so a drifting service never feeds garbage into normalization.
func (c *Client) extractChunk(ctx context.Context, prompt string) ([]wireEntry, error) {
	request := map[string]any{
		"model":           c.model,
		"prompt":          prompt,
		"response_format": "json",
	}

	var response struct {
		Output string `json:"output"`
	}
	if err := c.postJSON(ctx, "/v1/extract", request, &response, "extract_chunk"); err != nil {
		return nil, err
	}

	raw := extractJSONObject(response.Output)
	if err := validateResponse([]byte(raw)); err != nil {
		return nil, fmt.Errorf("extraction response rejected: %w", err)
	}

	var decoded chunkResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}
	return decoded.Entries, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
