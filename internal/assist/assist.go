// Package assist calls an external prompt-to-text generation service. It is
// strictly best-effort: every failure path degrades to a fixed fallback
// string so the annotation flow never breaks on a flaky generator.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Fallback is returned whenever the generation service is unavailable,
// errors, or produces an empty result.
const Fallback = "No summary available right now. Try again in a moment."

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Client talks to the generation service. A client with an empty base URL is
// valid and always answers with the fallback.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a generation client. baseURL may be empty to disable the
// service entirely.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// Enabled reports whether a generation endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Generate produces text for the prompt. It never returns an error: any
// failure is logged and collapsed into the fallback string.
func (c *Client) Generate(ctx context.Context, prompt string) string {
	if !c.Enabled() {
		return Fallback
	}

	payload, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		log.Printf("assist: marshal request: %v", err)
		return Fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		log.Printf("assist: build request: %v", err)
		return Fallback
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("assist: generation call failed: %v", err)
		return Fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("assist: generation service returned %s", resp.Status)
		return Fallback
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("assist: read response: %v", err)
		return Fallback
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("assist: decode response: %v", err)
		return Fallback
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return Fallback
	}
	return text
}

// SummaryPrompt builds the prompt used for ephemeral document summaries.
func SummaryPrompt(title, content string) string {
	const limit = 4000
	if len(content) > limit {
		content = content[:limit]
	}
	return fmt.Sprintf("Summarize the key points of the document %q in two sentences:\n\n%s", title, content)
}
