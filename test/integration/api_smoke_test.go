package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/ivankudzin/sparkcall/backend/internal/app/apiapp"
	"github.com/ivankudzin/sparkcall/backend/internal/config"
)

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.Redis.Addr = mr.Addr()
	// No postgres in the smoke setup; the app runs degraded with the
	// profile gate disabled.
	cfg.Postgres.DSN = ""

	app, err := apiapp.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url, token string, target any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, baseURL string, telegramID int64) string {
	t.Helper()

	resp := postJSON(t, baseURL+"/auth/telegram", "", map[string]string{
		"init_data": fmt.Sprintf("%d", telegramID),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	return tokens.AccessToken
}

func TestHealthz(t *testing.T) {
	ts := newTestApp(t)

	var payload struct {
		OK bool `json:"ok"`
	}
	if status := getJSON(t, ts.URL+"/healthz", "", &payload); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if !payload.OK {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestApp(t)

	var payload struct {
		HandshakeTTLSec int64 `json:"handshake_ttl_sec"`
		DecisionTTLSec  int64 `json:"decision_ttl_sec"`
	}
	if status := getJSON(t, ts.URL+"/v1/config", "", &payload); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if payload.HandshakeTTLSec == 0 || payload.DecisionTTLSec == 0 {
		t.Fatalf("config payload missing ttls: %+v", payload)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	ts := newTestApp(t)

	if status := getJSON(t, ts.URL+"/v1/status", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestQueueToSessionFlow(t *testing.T) {
	ts := newTestApp(t)

	tokenA := login(t, ts.URL, 1)
	tokenB := login(t, ts.URL, 2)

	joinBody := func(gender string) map[string]any {
		return map[string]any{
			"gender": gender,
			"age":    25,
			"lat":    53.9,
			"lon":    27.56,
		}
	}

	resp := postJSON(t, ts.URL+"/v1/queue/join", tokenA, joinBody("male"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join A status %d", resp.StatusCode)
	}

	// The second join triggers pairing synchronously.
	resp = postJSON(t, ts.URL+"/v1/queue/join", tokenB, joinBody("female"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join B status %d", resp.StatusCode)
	}

	var statusA struct {
		Phase string `json:"phase"`
		Match *struct {
			MatchID       string `json:"match_id"`
			CounterpartID int64  `json:"counterpart_id"`
		} `json:"match"`
	}
	if code := getJSON(t, ts.URL+"/v1/status", tokenA, &statusA); code != http.StatusOK {
		t.Fatalf("status A code %d", code)
	}
	if statusA.Phase != "matched" || statusA.Match == nil {
		t.Fatalf("expected matched phase for A, got %+v", statusA)
	}
	if statusA.Match.CounterpartID != 2 {
		t.Fatalf("wrong counterpart %d", statusA.Match.CounterpartID)
	}

	matchID := statusA.Match.MatchID

	resp = postJSON(t, ts.URL+"/v1/matches/"+matchID+"/accept", tokenA, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept A status %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/matches/"+matchID+"/accept", tokenB, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept B status %d", resp.StatusCode)
	}

	var statusB struct {
		Phase   string `json:"phase"`
		Session *struct {
			SessionID string `json:"session_id"`
			ChannelID string `json:"channel_id"`
			Stage     int    `json:"stage"`
			Status    string `json:"status"`
		} `json:"session"`
	}
	if code := getJSON(t, ts.URL+"/v1/status", tokenB, &statusB); code != http.StatusOK {
		t.Fatalf("status B code %d", code)
	}
	if statusB.Phase != "in_session" || statusB.Session == nil {
		t.Fatalf("expected session for B, got %+v", statusB)
	}
	if statusB.Session.Stage != 1 || statusB.Session.Status != "active" || statusB.Session.ChannelID == "" {
		t.Fatalf("unexpected session state %+v", statusB.Session)
	}

	// B hangs up; both ends return to idle.
	resp = postJSON(t, ts.URL+"/v1/sessions/"+statusB.Session.SessionID+"/end", tokenB, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status %d", resp.StatusCode)
	}

	var after struct {
		Phase string `json:"phase"`
	}
	if code := getJSON(t, ts.URL+"/v1/status", tokenA, &after); code != http.StatusOK {
		t.Fatalf("status after end code %d", code)
	}
	if after.Phase != "none" {
		t.Fatalf("expected idle phase after end, got %q", after.Phase)
	}
}
