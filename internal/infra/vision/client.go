// Package vision implements the verification client: it turns a captured
// image into a structured verdict by calling an external vision-classification
// endpoint (OpenAI chat-completions wire format).
//
// The client performs exactly one request per call — retry policy belongs to
// the orchestrator — and never caches.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/greenproof/greenproof/internal/domain"
)

// systemPrompt constrains the service's output to a verdict JSON object.
// The wording mirrors the production prompt; changing it changes what the
// classifier accepts as a valid eco-action.
const systemPrompt = `You are an environmental expert. Analyze images and determine if they show eco-friendly actions.

Valid eco-actions: reusable bottles/cups, recycling, composting, biking, public transport, reusable bags, solar panels, planting trees.

Respond ONLY with valid JSON in this exact format:
{
  "isEcoFriendly": true,
  "actionType": "bottle",
  "confidence": 85,
  "reasoning": "Shows a reusable water bottle being refilled"
}

actionType must be one of: "bottle", "recycle", "bike", "compost", "other"`

const userPrompt = "Analyze this image and respond with JSON only."

// ─── Configuration ──────────────────────────────────────────────────────────

// Config controls the classification request.
type Config struct {
	BaseURL     string        // endpoint root, e.g. https://api.openai.com/v1
	APIKey      string        // bearer token
	Model       string        // e.g. gpt-4o-mini
	MaxTokens   int           // reply budget
	Temperature float64       // sampling temperature
	Timeout     time.Duration // per-request deadline; expiry is a network failure
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   200,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// ─── Client ─────────────────────────────────────────────────────────────────

// Client implements domain.Verifier against a chat-completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a verification client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// ─── Wire Types ─────────────────────────────────────────────────────────────

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"` // "low" keeps token cost down
}

// wireVerdict is the JSON object the classifier is asked to produce.
// Pointer fields distinguish absent from zero: missing required fields are a
// parse failure, while extra fields are ignored.
type wireVerdict struct {
	IsEcoFriendly *bool   `json:"isEcoFriendly"`
	ActionType    *string `json:"actionType"`
	Confidence    *int    `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// ─── Verification ───────────────────────────────────────────────────────────

// Verify classifies one image.
//
// The image is encoded as a base64 data URL before the network call starts;
// the request carries the fixed system prompt and the image at low detail.
// The reply is free text expected to contain a JSON verdict object — the
// first balanced-brace span is parsed, surrounding prose is ignored.
func (c *Client) Verify(ctx context.Context, imageBytes []byte) (domain.Verdict, error) {
	dataURL, err := encodeImage(imageBytes)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
			}},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: encode request: %v", domain.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Verdict{}, fmt.Errorf("%w: status %d: %s",
			domain.ErrService, resp.StatusCode, truncate(string(body), 200))
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return domain.Verdict{}, fmt.Errorf("%w: response has no message content", domain.ErrParse)
	}

	return ParseVerdict(content.String())
}

// ParseVerdict extracts and validates a verdict from the classifier's free
// text. Exported so tests and tooling can exercise the parse in isolation.
func ParseVerdict(content string) (domain.Verdict, error) {
	span, ok := extractJSONObject(content)
	if !ok {
		return domain.Verdict{}, fmt.Errorf("%w: no JSON object in reply", domain.ErrParse)
	}

	var wire wireVerdict
	if err := json.Unmarshal([]byte(span), &wire); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if wire.IsEcoFriendly == nil || wire.ActionType == nil || wire.Confidence == nil {
		return domain.Verdict{}, fmt.Errorf("%w: verdict missing required fields", domain.ErrParse)
	}

	return domain.Verdict{
		IsEcoFriendly: *wire.IsEcoFriendly,
		Category:      domain.NormalizeCategory(*wire.ActionType),
		Confidence:    domain.ClampConfidence(*wire.Confidence),
		Reasoning:     wire.Reasoning,
	}, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// encodeImage produces the transport-safe data URL. Encoding always runs to
// completion before any network I/O.
func encodeImage(imageBytes []byte) (string, error) {
	if len(imageBytes) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageBytes), nil
}

// extractJSONObject returns the first balanced {...} span in s.
// Braces inside JSON strings are skipped.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if inString {
				continue
			}
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if inString || depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
