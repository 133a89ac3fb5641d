package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greenproof/greenproof/internal/domain"
)

// chatReply builds a chat-completions response whose message content is s.
func chatReply(s string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": s}},
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	cfg.Timeout = 2 * time.Second
	return New(cfg)
}

func TestVerify_ParsesProseWrappedJSON(t *testing.T) {
	content := `Here you go: {"isEcoFriendly":true,"actionType":"bike","confidence":92,"reasoning":"cyclist"}  thanks`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, chatReply(content))
	})

	v, err := client.Verify(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !v.IsEcoFriendly {
		t.Error("IsEcoFriendly = false, want true")
	}
	if v.Category != domain.CategoryBike {
		t.Errorf("Category = %q, want bike", v.Category)
	}
	if v.Confidence != 92 {
		t.Errorf("Confidence = %d, want 92", v.Confidence)
	}
	if v.Reasoning != "cyclist" {
		t.Errorf("Reasoning = %q, want cyclist", v.Reasoning)
	}
}

func TestVerify_RequestCarriesLowDetailImage(t *testing.T) {
	var captured chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, chatReply(`{"isEcoFriendly":true,"actionType":"bottle","confidence":80,"reasoning":"ok"}`))
	})

	if _, err := client.Verify(context.Background(), []byte{0xff, 0xd8}); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if captured.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", captured.Model)
	}
	if captured.MaxTokens != 200 {
		t.Errorf("max_tokens = %d, want 200", captured.MaxTokens)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("messages malformed: %+v", captured.Messages)
	}
	// User content must carry text + low-detail image parts.
	raw, _ := json.Marshal(captured.Messages[1].Content)
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
		t.Fatalf("user content parts = %s", raw)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.Detail != "low" {
		t.Errorf("image part missing low-detail hint: %+v", parts[1])
	}
	if len(parts[1].ImageURL.URL) == 0 || parts[1].ImageURL.URL[:5] != "data:" {
		t.Errorf("image URL is not a data URL: %.20s", parts[1].ImageURL.URL)
	}
}

func TestVerify_ServiceError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := client.Verify(context.Background(), []byte("img"))
	if !errors.Is(err, domain.ErrService) {
		t.Errorf("error = %v, want ErrService", err)
	}
}

func TestVerify_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	srv.Close() // connection refused from here on
	client := New(cfg)

	_, err := client.Verify(context.Background(), []byte("img"))
	if !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
}

func TestVerify_EmptyImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued for an empty image")
	})

	_, err := client.Verify(context.Background(), nil)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
}

func TestVerify_NoContentInEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.Verify(context.Background(), []byte("img"))
	if !errors.Is(err, domain.ErrParse) {
		t.Errorf("error = %v, want ErrParse", err)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    domain.Verdict
		wantErr error
	}{
		{
			name:    "bare object",
			content: `{"isEcoFriendly":true,"actionType":"recycle","confidence":85,"reasoning":"bins"}`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryRecycle, Confidence: 85, Reasoning: "bins"},
		},
		{
			name:    "unknown category coerces to other",
			content: `{"isEcoFriendly":true,"actionType":"solar","confidence":70,"reasoning":"panels"}`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryOther, Confidence: 70, Reasoning: "panels"},
		},
		{
			name:    "confidence above range clamps",
			content: `{"isEcoFriendly":true,"actionType":"bike","confidence":150,"reasoning":"x"}`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryBike, Confidence: 100, Reasoning: "x"},
		},
		{
			name:    "confidence below range clamps",
			content: `{"isEcoFriendly":false,"actionType":"other","confidence":-3,"reasoning":"x"}`,
			want:    domain.Verdict{Category: domain.CategoryOther, Confidence: 0, Reasoning: "x"},
		},
		{
			name:    "extra fields ignored",
			content: `{"isEcoFriendly":true,"actionType":"bottle","confidence":90,"reasoning":"r","score":1,"notes":"n"}`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryBottle, Confidence: 90, Reasoning: "r"},
		},
		{
			name:    "reasoning optional",
			content: `{"isEcoFriendly":true,"actionType":"bottle","confidence":90}`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryBottle, Confidence: 90},
		},
		{
			name:    "missing confidence",
			content: `{"isEcoFriendly":true,"actionType":"bottle","reasoning":"r"}`,
			wantErr: domain.ErrParse,
		},
		{
			name:    "missing isEcoFriendly",
			content: `{"actionType":"bottle","confidence":50,"reasoning":"r"}`,
			wantErr: domain.ErrParse,
		},
		{
			name:    "no object at all",
			content: `I cannot tell what this image shows.`,
			wantErr: domain.ErrParse,
		},
		{
			name:    "brace inside string does not confuse extraction",
			content: `note {"isEcoFriendly":true,"actionType":"bike","confidence":75,"reasoning":"sign says {go}"} end`,
			want:    domain.Verdict{IsEcoFriendly: true, Category: domain.CategoryBike, Confidence: 75, Reasoning: "sign says {go}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("verdict = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`prose {"a":{"b":2}} more`, `{"a":{"b":2}}`, true},
		{`no braces here`, "", false},
		{`{"unterminated":`, "", false},
		{`}{`, "{", false},
	}
	for _, tt := range tests {
		got, ok := extractJSONObject(tt.in)
		if ok != tt.ok {
			t.Errorf("extractJSONObject(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
