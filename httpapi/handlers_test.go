package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tokamak-auth/tokamak"
	"github.com/tokamak-auth/tokamak/providers/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}

	cfg := tokamak.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.AccessTTL = time.Minute
	cfg.JWT.RefreshTTL = time.Hour
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Security.MaxLoginAttempts = 3
	cfg.Security.LoginCooldown = time.Minute

	engine, err := tokamak.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(memory.New()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	api, err := New(engine, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func register(t *testing.T, srv *httptest.Server, email, password string) map[string]any {
	t.Helper()

	resp, body := postJSON(t, srv.URL+"/auth/register", map[string]string{
		"email":    email,
		"password": password,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body %v", resp.StatusCode, body)
	}
	return body
}

func TestRegisterAndDuplicate(t *testing.T) {
	srv := newTestServer(t)

	body := register(t, srv, "alice@example.com", "secret1")
	for _, field := range []string{"user_id", "access_token", "refresh_token"} {
		if s, _ := body[field].(string); s == "" {
			t.Fatalf("missing %s in register response: %v", field, body)
		}
	}

	resp, body := postJSON(t, srv.URL+"/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "another1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, body %v", resp.StatusCode, body)
	}
}

func TestLoginStatusCodes(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "bob@example.com", "secret1")

	resp, _ := postJSON(t, srv.URL+"/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "secret1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, body %v", resp.StatusCode, body)
	}

	resp, _ = postJSON(t, srv.URL+"/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty password status = %d, want 400", resp.StatusCode)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "carl@example.com", "secret1")

	for i := 0; i < 3; i++ {
		resp, _ := postJSON(t, srv.URL+"/auth/login", map[string]string{
			"email":    "carl@example.com",
			"password": "wrong",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, resp.StatusCode)
		}
	}

	resp, _ := postJSON(t, srv.URL+"/auth/login", map[string]string{
		"email":    "carl@example.com",
		"password": "secret1",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttled status = %d, want 429", resp.StatusCode)
	}
}

func TestRefreshRotationAndReuse(t *testing.T) {
	srv := newTestServer(t)
	body := register(t, srv, "dora@example.com", "secret1")
	firstRefresh := body["refresh_token"].(string)

	resp, rotated := postJSON(t, srv.URL+"/auth/refresh", map[string]string{
		"refresh_token": firstRefresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, body %v", resp.StatusCode, rotated)
	}
	if rotated["refresh_token"] == firstRefresh {
		t.Fatal("refresh did not rotate the token")
	}

	// Replaying the retired token and presenting garbage must be
	// indistinguishable to the caller.
	resp, reuseBody := postJSON(t, srv.URL+"/auth/refresh", map[string]string{
		"refresh_token": firstRefresh,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reuse status = %d, want 401", resp.StatusCode)
	}

	resp, garbageBody := postJSON(t, srv.URL+"/auth/refresh", map[string]string{
		"refresh_token": "garbage",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage status = %d, want 401", resp.StatusCode)
	}
	if reuseBody["error"] != garbageBody["error"] {
		t.Fatalf("reuse body %v differs from invalid body %v", reuseBody, garbageBody)
	}

	// The successor died with the family.
	resp, _ = postJSON(t, srv.URL+"/auth/refresh", map[string]string{
		"refresh_token": rotated["refresh_token"].(string),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("successor status = %d, want 401", resp.StatusCode)
	}
}

func TestGuardedRoutes(t *testing.T) {
	srv := newTestServer(t)
	body := register(t, srv, "erin@example.com", "secret1")
	access := body["access_token"].(string)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me status = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	me := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/me status = %d, body %v", resp.StatusCode, me)
	}
	if me["email"] != "erin@example.com" {
		t.Fatalf("/me email = %v", me["email"])
	}
}

func TestSessionsAndLogoutAll(t *testing.T) {
	srv := newTestServer(t)
	body := register(t, srv, "fred@example.com", "secret1")
	access := body["access_token"].(string)

	// Two more sessions.
	for i := 0; i < 2; i++ {
		resp, loginBody := postJSON(t, srv.URL+"/auth/login", map[string]string{
			"email":    "fred@example.com",
			"password": "secret1",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login %d status = %d, body %v", i, resp.StatusCode, loginBody)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	sessionsBody := decodeBody(t, resp)
	sessions, _ := sessionsBody["sessions"].([]any)
	if len(sessions) != 3 {
		t.Fatalf("session count = %d, want 3: %v", len(sessions), sessionsBody)
	}
	for i, raw := range sessions {
		entry, _ := raw.(map[string]any)
		for _, field := range []string{"token_id", "family_id", "issued_at"} {
			if s, _ := entry[field].(string); s == "" {
				t.Fatalf("session %d missing %s: %v", i, field, entry)
			}
		}
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /logout-all: %v", err)
	}
	loBody := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/logout-all status = %d, body %v", resp.StatusCode, loBody)
	}
	if n, _ := loBody["sessions_revoked"].(float64); int(n) != 3 {
		t.Fatalf("sessions_revoked = %v, want 3", loBody["sessions_revoked"])
	}

	resp, _ = postJSON(t, srv.URL+"/auth/refresh", map[string]string{
		"refresh_token": body["refresh_token"].(string),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout-all status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	body := register(t, srv, "gina@example.com", "secret1")
	refresh := body["refresh_token"].(string)

	for i := 0; i < 2; i++ {
		resp, loBody := postJSON(t, srv.URL+"/auth/logout", map[string]string{
			"refresh_token": refresh,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout %d status = %d, body %v", i, resp.StatusCode, loBody)
		}
	}
}

func TestDeviceInfoOverridesUserAgent(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/auth/register", map[string]string{
		"email":       "ivan@example.com",
		"password":    "secret1",
		"device_info": "ivan-laptop",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body %v", resp.StatusCode, body)
	}
	access := body["access_token"].(string)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	sessionsBody := decodeBody(t, resp)
	sessions, _ := sessionsBody["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("session count = %d, want 1: %v", len(sessions), sessionsBody)
	}
	entry, _ := sessions[0].(map[string]any)
	if entry["device"] != "ivan-laptop" {
		t.Fatalf("session device = %v, want ivan-laptop", entry["device"])
	}
}

func TestVerifyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	body := register(t, srv, "hana@example.com", "secret1")

	resp, vBody := postJSON(t, srv.URL+"/auth/verify", map[string]string{
		"token": body["access_token"].(string),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, body %v", resp.StatusCode, vBody)
	}
	if vBody["valid"] != true {
		t.Fatalf("verify body = %v, want valid=true", vBody)
	}
	data, _ := vBody["data"].(map[string]any)
	if data["email"] != "hana@example.com" {
		t.Fatalf("verify data = %v", data)
	}

	resp, vBody = postJSON(t, srv.URL+"/auth/verify", map[string]string{
		"token": "garbage",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invalid verify status = %d, want 200", resp.StatusCode)
	}
	if vBody["valid"] != false {
		t.Fatalf("invalid verify body = %v, want valid=false", vBody)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}
}
