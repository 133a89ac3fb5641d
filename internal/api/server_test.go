package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/greenproof/greenproof/internal/app/orchestrator"
	"github.com/greenproof/greenproof/internal/domain"
	"github.com/greenproof/greenproof/internal/infra/dedup"
	"github.com/greenproof/greenproof/internal/infra/sqlite"
	"github.com/greenproof/greenproof/internal/ledger"
)

type stubVerifier struct {
	verdict domain.Verdict
	err     error
}

func (s *stubVerifier) Verify(_ context.Context, _ []byte) (domain.Verdict, error) {
	if s.err != nil {
		return domain.Verdict{}, s.err
	}
	return s.verdict, nil
}

// memRemote is an in-memory remote store that always succeeds.
type memRemote struct {
	mu      sync.Mutex
	records map[string]domain.LedgerRecord
}

func (m *memRemote) Fetch(_ context.Context, userID string) (*domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	copied := rec
	copied.Actions = append([]domain.EcoAction(nil), rec.Actions...)
	return &copied, nil
}

func (m *memRemote) Create(_ context.Context, userID string, rec domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID]; !ok {
		m.records[userID] = rec
	}
	return nil
}

func (m *memRemote) AtomicAppend(_ context.Context, userID string, action domain.EcoAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return domain.ErrRecordMissing
	}
	rec.Actions = domain.MergeActions([]domain.EcoAction{action}, rec.Actions)
	rec.Points = domain.SumPoints(rec.Actions)
	m.records[userID] = rec
	return nil
}

func (m *memRemote) Write(_ context.Context, userID string, rec domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = rec
	return nil
}

func newTestServer(t *testing.T, verifier domain.Verifier) *Server {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	rl := ledger.New(&memRemote{records: make(map[string]domain.LedgerRecord)}, db, quiet)
	orch := orchestrator.New(orchestrator.DefaultConfig(), verifier, rl,
		domain.DefaultCooldownPolicy(), dedup.New(dedup.Config{ExpectedItems: 100, FPRate: 0.001}), quiet)
	return NewServer(orch, rl, quiet)
}

func verifyBody(userID, imageRef string) *bytes.Buffer {
	body, _ := json.Marshal(map[string]string{
		"user_id":   userID,
		"image":     base64.StdEncoding.EncodeToString([]byte("fake image bytes")),
		"image_ref": imageRef,
	})
	return bytes.NewBuffer(body)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	if body == nil {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("bad JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

// ─── Verification flow ──────────────────────────────────────────────────────

func TestVerifyAccepted(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryRecycle, Confidence: 85, Reasoning: "recycling bin in frame",
	}})
	h := s.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp["outcome"] != "accepted" {
		t.Fatalf("outcome = %v", resp["outcome"])
	}
	ledgerObj, ok := resp["ledger"].(map[string]interface{})
	if !ok || ledgerObj["total_points"] != float64(15) {
		t.Errorf("ledger = %v, want 15 total points", resp["ledger"])
	}
}

func TestVerifyValidation(t *testing.T) {
	s := newTestServer(t, &stubVerifier{})
	h := s.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing user", `{"image":"aGk=","image_ref":"x"}`},
		{"empty image", `{"user_id":"u1","image":"","image_ref":"x"}`},
		{"bad base64", `{"user_id":"u1","image":"!!!","image_ref":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, h, http.MethodPost, "/api/verify", bytes.NewBufferString(tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestVerifyFaultStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"service fault", fmt.Errorf("%w: status 503", domain.ErrService), http.StatusBadGateway},
		{"parse fault", fmt.Errorf("%w: no JSON object", domain.ErrParse), http.StatusBadGateway},
		{"network fault", fmt.Errorf("%w: dial timeout", domain.ErrNetwork), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &stubVerifier{err: tc.err})
			rec, resp := doJSON(t, s.Handler(), http.MethodPost, "/api/verify", verifyBody("u1", "p"))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			errObj, ok := resp["error"].(map[string]interface{})
			if !ok || errObj["retryable"] != true {
				t.Errorf("error = %v, want retryable", resp["error"])
			}
		})
	}
}

func TestConfirmFlow(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryBottle, Confidence: 45,
	}})
	h := s.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))
	if rec.Code != http.StatusOK || resp["outcome"] != "pending_confirmation" {
		t.Fatalf("submit = %d %v", rec.Code, resp)
	}
	token, _ := resp["confirmation_token"].(string)
	if token == "" {
		t.Fatal("want a confirmation token")
	}

	body, _ := json.Marshal(map[string]string{"token": token})
	rec, resp = doJSON(t, h, http.MethodPost, "/api/verify/confirm", bytes.NewBuffer(body))
	if rec.Code != http.StatusOK || resp["outcome"] != "accepted" {
		t.Fatalf("confirm = %d %v", rec.Code, resp)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/verify/confirm", bytes.NewBufferString(`{"token":"`+token+`"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("reused token status = %d, want 404", rec.Code)
	}
}

func TestDeclineFlow(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryBottle, Confidence: 45,
	}})
	h := s.Handler()

	_, resp := doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))
	token, _ := resp["confirmation_token"].(string)

	rec, resp := doJSON(t, h, http.MethodPost, "/api/verify/decline", bytes.NewBufferString(`{"token":"`+token+`"}`))
	if rec.Code != http.StatusOK || resp["declined"] != true {
		t.Fatalf("decline = %d %v", rec.Code, resp)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/api/verify/decline", bytes.NewBufferString(`{"token":"`+token+`"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second decline status = %d, want 404", rec.Code)
	}
}

// ─── Read endpoints ─────────────────────────────────────────────────────────

func TestLedgerEndpoint(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryBike, Confidence: 90,
	}})
	h := s.Handler()
	doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))

	rec, resp := doJSON(t, h, http.MethodGet, "/api/ledger/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["co2_grams"] != float64(200) {
		t.Errorf("co2_grams = %v, want 200", resp["co2_grams"])
	}
	if resp["action_count"] != float64(1) {
		t.Errorf("action_count = %v, want 1", resp["action_count"])
	}
}

func TestCooldownsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryBottle, Confidence: 90,
	}})
	h := s.Handler()
	doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))

	rec, resp := doJSON(t, h, http.MethodGet, "/api/cooldowns/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	entries, ok := resp["cooldowns"].([]interface{})
	if !ok || len(entries) != len(domain.Categories()) {
		t.Fatalf("cooldowns = %v", resp["cooldowns"])
	}
	var sawBottle bool
	for _, e := range entries {
		entry := e.(map[string]interface{})
		if entry["category"] == "bottle" {
			sawBottle = true
			if entry["on_cooldown"] != true {
				t.Error("bottle should be on cooldown")
			}
			if entry["period_minutes"] != float64(30) {
				t.Errorf("bottle period = %v, want 30", entry["period_minutes"])
			}
		}
	}
	if !sawBottle {
		t.Error("bottle entry missing")
	}
}

func TestLeaderboardMergesUser(t *testing.T) {
	s := newTestServer(t, &stubVerifier{verdict: domain.Verdict{
		IsEcoFriendly: true, Category: domain.CategoryRecycle, Confidence: 90,
	}})
	h := s.Handler()
	doJSON(t, h, http.MethodPost, "/api/verify", verifyBody("u1", "photo-1"))

	rec, resp := doJSON(t, h, http.MethodGet, "/api/leaderboard/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	board, ok := resp["leaderboard"].([]interface{})
	if !ok || len(board) != 5 {
		t.Fatalf("leaderboard = %v, want 5 rows", resp["leaderboard"])
	}
	last := board[len(board)-1].(map[string]interface{})
	if last["is_user"] != true || last["points"] != float64(15) {
		t.Errorf("user row = %v, want is_user with 15 points at the bottom", last)
	}
	first := board[0].(map[string]interface{})
	if first["rank"] != float64(1) || first["points"] != float64(450) {
		t.Errorf("first row = %v", first)
	}
}

// ─── Plumbing ───────────────────────────────────────────────────────────────

func TestHealthAndVersion(t *testing.T) {
	h := newTestServer(t, &stubVerifier{}).Handler()

	rec, resp := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || resp["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, resp)
	}
	rec, resp = doJSON(t, h, http.MethodGet, "/api/version", nil)
	if rec.Code != http.StatusOK || resp["version"] != Version {
		t.Errorf("version = %d %v", rec.Code, resp)
	}
}

func TestMetricsGated(t *testing.T) {
	s := newTestServer(t, &stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("ungated /metrics status = %d, want 404", rec.Code)
	}

	s.EnableMetrics()
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("gated /metrics status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &stubVerifier{})
	s.EnableRateLimit(1, 1)
	h := s.Handler()

	if rec, _ := doJSON(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	if rec, _ := doJSON(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("burst-exceeding request = %d, want 429", rec.Code)
	}
}
