package tokamak

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-secret")
	cfg.JWT.AccessTTL = time.Minute
	cfg.JWT.RefreshTTL = time.Hour

	// Cheap argon2 parameters; hashing dominates test runtime otherwise.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16

	cfg.Security.MaxLoginAttempts = 5
	cfg.Security.LoginCooldown = time.Minute
	return cfg
}

type mockUserProvider struct {
	mu      sync.Mutex
	byEmail map[string]UserRecord
	byID    map[string]UserRecord
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		byEmail: map[string]UserRecord{},
		byID:    map[string]UserRecord{},
	}
}

func (m *mockUserProvider) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrAccountExists, in.Email)
	}
	rec := UserRecord{
		UserID:       uuid.NewString(),
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
	}
	m.byEmail[rec.Email] = rec
	m.byID[rec.UserID] = rec
	return rec, nil
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.PasswordHash = newHash
	m.byID[userID] = rec
	m.byEmail[rec.Email] = rec
	return nil
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	_, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

func TestRegisterLoginVerify(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.UserID == "" || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected populated register result")
	}

	auth, err := engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if auth.UserID != res.UserID || auth.Email != "alice@example.com" {
		t.Fatalf("auth result mismatch: %+v", auth)
	}

	if _, err := engine.Register(ctx, "alice@example.com", "another1"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate register = %v, want ErrAccountExists", err)
	}

	if _, err := engine.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := engine.Login(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email = %v, want ErrInvalidCredentials", err)
	}

	pair, err := engine.Login(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.FamilyID == res.Tokens.FamilyID {
		t.Fatal("login should mint a fresh family")
	}
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	engine := newTestEngine(t, testConfig())

	if _, err := engine.VerifyAccess(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshRotationChain(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "bob@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	pair := res.Tokens
	seen := map[string]bool{pair.RefreshToken: true}

	for i := 0; i < 4; i++ {
		next, err := engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if seen[next.RefreshToken] {
			t.Fatalf("refresh %d returned a repeated token", i)
		}
		if next.FamilyID != res.Tokens.FamilyID {
			t.Fatalf("refresh %d switched family", i)
		}
		seen[next.RefreshToken] = true
		pair = next
	}

	// The newest token still works end to end.
	if _, err := engine.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccess on rotated pair: %v", err)
	}
}

func TestRefreshReuseBurnsFamily(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "carol@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	first := res.Tokens
	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Replaying the retired token is the reuse signal.
	if _, err := engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reuse = %v, want ErrRefreshReuse", err)
	}

	// The cascade kills the live successor too; since the alert already
	// fired, the burned family reports a plain invalid token.
	if _, err := engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("post-compromise refresh = %v, want ErrRefreshInvalid", err)
	}
}

func TestFreshLoginAfterCompromise(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "dave@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reuse = %v, want ErrRefreshReuse", err)
	}

	// Compromise is scoped to the family. A fresh login works.
	pair, err := engine.Login(ctx, "dave@example.com", "secret1")
	if err != nil {
		t.Fatalf("login after compromise: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh on fresh family: %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "eve@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	const workers = 12

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Refresh(ctx, res.Tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefreshReuse):
		case errors.Is(err, ErrRefreshInvalid):
		default:
			t.Fatalf("worker %d: unexpected error %v", i, err)
		}
	}
	if wins > 1 {
		t.Fatalf("got %d winners, want at most 1", wins)
	}
}

func TestLogoutEndsFamily(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "frank@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := engine.Logout(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) && !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh after logout = %v, want refresh rejection", err)
	}

	// Logout is goal-state oriented: repeating it or handing it garbage
	// still succeeds.
	if err := engine.Logout(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := engine.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("garbage Logout: %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "grace@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair2, err := engine.Login(ctx, "grace@example.com", "secret1")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	pair3, err := engine.Login(ctx, "grace@example.com", "secret1")
	if err != nil {
		t.Fatalf("third login: %v", err)
	}

	other, err := engine.Register(ctx, "henry@example.com", "secret1")
	if err != nil {
		t.Fatalf("register other user: %v", err)
	}

	sessions, err := engine.Sessions(ctx, res.UserID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("session count = %d, want 3", len(sessions))
	}
	// Each listing names its family's current token so a single session
	// can be revoked from it.
	listed := map[string]bool{}
	for _, s := range sessions {
		if s.TokenID == "" || s.IssuedAt.IsZero() {
			t.Fatalf("session missing token metadata: %+v", s)
		}
		listed[s.TokenID] = true
	}
	for _, tid := range []string{res.Tokens.TokenID, pair2.TokenID, pair3.TokenID} {
		if !listed[tid] {
			t.Fatalf("token %s not listed in sessions %+v", tid, sessions)
		}
	}

	count, err := engine.LogoutAll(ctx, res.UserID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if count != 3 {
		t.Fatalf("revoked count = %d, want 3", count)
	}

	for i, refresh := range []string{res.Tokens.RefreshToken, pair2.RefreshToken, pair3.RefreshToken} {
		if _, err := engine.Refresh(ctx, refresh); err == nil {
			t.Fatalf("session %d still refreshable after LogoutAll", i)
		}
	}

	// The other user is untouched.
	if _, err := engine.Refresh(ctx, other.Tokens.RefreshToken); err != nil {
		t.Fatalf("other user refresh: %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := engine.Register(ctx, "ivy@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := engine.Login(ctx, "ivy@example.com", "wrong")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v, want ErrInvalidCredentials", i, err)
		}
	}

	// Budget exhausted: even the correct password is throttled now.
	if _, err := engine.Login(ctx, "ivy@example.com", "secret1"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("throttled login = %v, want ErrLoginRateLimited", err)
	}

	// A different source address has its own budget.
	otherCtx := WithClientIP(context.Background(), "198.51.100.7")
	if _, err := engine.Login(otherCtx, "ivy@example.com", "secret1"); err != nil {
		t.Fatalf("login from other ip: %v", err)
	}
}

func TestRevokeTokenEndsCurrentFamily(t *testing.T) {
	engine := newTestEngine(t, testConfig())
	ctx := context.Background()

	res, err := engine.Register(ctx, "judy@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := engine.RevokeToken(ctx, res.Tokens.TokenID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err == nil {
		t.Fatal("refresh after token revocation should fail")
	}

	if err := engine.RevokeToken(ctx, "no-such-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("unknown token = %v, want ErrRefreshInvalid", err)
	}
}

func TestMetricsSnapshotCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine := newTestEngine(t, cfg)
	ctx := context.Background()

	res, err := engine.Register(ctx, "kate@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reuse = %v, want ErrRefreshReuse", err)
	}
	if _, err := engine.VerifyAccess(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRegisterSuccess] != 1 {
		t.Fatalf("register counter = %d, want 1", snap.Counters[MetricRegisterSuccess])
	}
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("refresh counter = %d, want 1", snap.Counters[MetricRefreshSuccess])
	}
	if snap.Counters[MetricRefreshReuseDetected] != 1 {
		t.Fatalf("reuse counter = %d, want 1", snap.Counters[MetricRefreshReuseDetected])
	}
	if snap.Counters[MetricFamilyCompromised] != 1 {
		t.Fatalf("compromised counter = %d, want 1", snap.Counters[MetricFamilyCompromised])
	}

	buckets := snap.Histograms[MetricVerifyLatency]
	var total uint64
	for _, b := range buckets {
		total += b
	}
	if total == 0 {
		t.Fatal("expected at least one verify latency observation")
	}
}

func TestAuditEventsOnReuse(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(64)

	_, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.5")
	res, err := engine.Register(ctx, "leo@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reuse = %v, want ErrRefreshReuse", err)
	}

	// Close drains the dispatcher so every event is in the sink.
	engine.Close()

	types := map[string]int{}
	var alert AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			types[ev.EventType]++
			if ev.EventType == EventSecurityAlert {
				alert = ev
			}
			continue
		default:
		}
		break
	}

	if types[EventTokenIssued] != 1 {
		t.Fatalf("TOKEN_ISSUED events = %d, want 1", types[EventTokenIssued])
	}
	if types[EventRefreshSuccess] != 1 {
		t.Fatalf("TOKEN_REFRESH_SUCCESS events = %d, want 1", types[EventRefreshSuccess])
	}
	if types[EventSecurityAlert] != 1 {
		t.Fatalf("SECURITY_ALERT events = %d, want 1", types[EventSecurityAlert])
	}
	if types[EventRefreshFailed] == 0 {
		t.Fatal("expected a TOKEN_REFRESH_FAILED event")
	}

	if alert.Metadata["reason"] != AlertPossibleTokenReuse {
		t.Fatalf("alert reason = %q, want %q", alert.Metadata["reason"], AlertPossibleTokenReuse)
	}
	if alert.FamilyID != res.Tokens.FamilyID {
		t.Fatalf("alert family = %q, want %q", alert.FamilyID, res.Tokens.FamilyID)
	}
	if alert.IP != "203.0.113.5" {
		t.Fatalf("alert ip = %q, want request ip", alert.IP)
	}
}
