package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/resilience"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration

	CircuitThreshold int
	CircuitCooldown  time.Duration
}

// Client calls the Gemini generateContent REST API for per-frame analysis and
// summary text generation.
type Client struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-lite"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
	}
}

func (c *Client) Name() string { return "gemini" }

const frameAnalysisPrompt = `Player task: %s.
Analyze this first-person frame. Respond ONLY in JSON format:
{
  "status": "ok|needs_adjustment|danger",
  "observation": "short natural suggestion and next step"
}`

// AnalyzeFrame sends one image plus the task description and parses the
// model's JSON verdict.
func (c *Client) AnalyzeFrame(ctx context.Context, image []byte, task string) (vision.Observation, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: fmt.Sprintf(frameAnalysisPrompt, task)},
				{InlineData: &inlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	}
	text, err := c.generate(ctx, req)
	if err != nil {
		return vision.Observation{}, errorsx.Wrap(err, errorsx.ReasonVisionAnalyze)
	}
	var obs vision.Observation
	if err := json.Unmarshal([]byte(stripFences(text)), &obs); err != nil {
		return vision.Observation{}, errorsx.Wrap(err, errorsx.ReasonVisionDecode)
	}
	return obs, nil
}

// GenerateText runs a plain text prompt, used for batch summaries.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	text, err := c.generate(ctx, req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSummaryGenerate)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) generate(ctx context.Context, payload generateRequest) (string, error) {
	if !c.breaker.Allow() {
		return "", errorsx.Wrap(errors.New("gemini circuit open"), errorsx.ReasonVisionCircuitOpen)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.OnError(err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		err := resilience.RateLimitError{Provider: "gemini", Message: string(raw)}
		c.breaker.OnError(err)
		return "", errorsx.Wrap(err, errorsx.ReasonVisionRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini %s: %s", resp.Status, string(raw))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.breaker.OnSuccess()

	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", errors.New("gemini response had no text parts")
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var fenceRE = regexp.MustCompile(`(?i)^` + "```" + `json\s*|\s*` + "```" + `$`)

// stripFences removes markdown code fences the model wraps around JSON.
func stripFences(raw string) string {
	return fenceRE.ReplaceAllString(strings.TrimSpace(raw), "")
}

var (
	_ vision.FrameAnalyzer = (*Client)(nil)
	_ vision.Summarizer    = (*Client)(nil)
)
