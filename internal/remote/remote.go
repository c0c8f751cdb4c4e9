// Package remote holds the HTTP clients for the two external model
// services: the Analysis Service, which summarizes what happens in a
// video clip, and the Answer Service, which answers free-form text
// prompts. Both are treated as unreliable network I/O; every call is
// bounded by a request timeout.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultAnalysisPrompt is sent with every clip unless overridden.
const DefaultAnalysisPrompt = "What happened in this video? Take note of how many different people " +
	"there are, their features, and what actions they are performing."

// AnalysisClient submits video clips to the Analysis Service.
type AnalysisClient struct {
	baseURL string
	client  *http.Client
}

// NewAnalysisClient returns a client for the Analysis Service at baseURL.
func NewAnalysisClient(baseURL string, timeout time.Duration) *AnalysisClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AnalysisClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Analyze uploads the clip at clipPath with the given prompt and returns
// the analysis text. The request body is multipart form data with a
// "video" file part and a "prompt" field; the response is JSON with an
// "analysis" field.
func (c *AnalysisClient) Analyze(ctx context.Context, clipPath, prompt string) (string, error) {
	f, err := os.Open(clipPath)
	if err != nil {
		return "", fmt.Errorf("opening clip: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("video", filepath.Base(clipPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("reading clip: %w", err)
	}
	if err := mw.WriteField("prompt", prompt); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var out struct {
		Analysis string `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding analysis response: %w", err)
	}
	if out.Analysis == "" {
		return "", fmt.Errorf("analysis service returned an empty analysis")
	}
	return out.Analysis, nil
}

// AnswerClient submits text prompts to the Answer Service.
type AnswerClient struct {
	baseURL string
	client  *http.Client
}

// NewAnswerClient returns a client for the Answer Service at baseURL.
func NewAnswerClient(baseURL string, timeout time.Duration) *AnswerClient {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &AnswerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ask sends the prompt and returns the service's reply text. The request
// is JSON with a "question" field; the response is JSON with an "answer"
// field.
func (c *AnswerClient) Ask(ctx context.Context, question string) (string, error) {
	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("answer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("answer service returned status %d", resp.StatusCode)
	}

	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding answer response: %w", err)
	}
	return out.Answer, nil
}
