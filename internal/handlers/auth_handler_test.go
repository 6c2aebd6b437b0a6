package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"clipstream/internal/models"
	"clipstream/internal/services"
	"clipstream/internal/utils"
)

// --- collaborator fakes ---

type fakeUsers struct {
	byEmail   map[string]*models.User
	markedIDs []int
}

func (f *fakeUsers) GetUserByEmail(email string) (*models.User, error) { return f.byEmail[email], nil }
func (f *fakeUsers) GetUserByID(id int) (*models.User, error)          { return nil, nil }
func (f *fakeUsers) MarkLoggedIn(userID int, fingerprint string, at time.Time) error {
	f.markedIDs = append(f.markedIDs, userID)
	return nil
}
func (f *fakeUsers) ResolveSessionUser(*models.Session) (*models.User, services.FoundBy, error) {
	return nil, "", services.ErrUserNotFound
}

// fakeAuth treats "<plain>#hashed" as the stored hash of <plain>.
type fakeAuth struct{}

func (fakeAuth) HashPassword(plain string) (string, error) { return plain + "#hashed", nil }
func (fakeAuth) VerifyPassword(plain, storedHash string) bool {
	return storedHash != "" && storedHash == plain+"#hashed"
}
func (fakeAuth) CheckPasswordStrength(plain string) error {
	if strings.HasPrefix(plain, "weak") {
		return services.ErrWeakPassword
	}
	return nil
}

type fakeLimiter struct {
	allow    bool
	recorded []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) bool { return f.allow }
func (f *fakeLimiter) Record(ctx context.Context, key string)     { f.recorded = append(f.recorded, key) }
func (f *fakeLimiter) Window() time.Duration                      { return 15 * time.Minute }

type fakeCaptcha struct {
	ok     bool
	called bool
}

func (f *fakeCaptcha) Verify(ctx context.Context, token, remoteIP string) bool {
	f.called = true
	return f.ok && token != ""
}

type fakeOtp struct {
	issuedTo []string
	issuedFp []string
	issueErr error
	outcome  services.OtpOutcome
	checkFp  string
}

func (f *fakeOtp) Issue(email, fingerprint string) error {
	f.issuedTo = append(f.issuedTo, email)
	f.issuedFp = append(f.issuedFp, fingerprint)
	return f.issueErr
}
func (f *fakeOtp) Check(email, fingerprint, submitted string) (services.OtpOutcome, error) {
	f.checkFp = fingerprint
	return f.outcome, nil
}

type fakeSessions struct {
	created     []*models.Session
	fkFailFirst bool
	calls       int
	deleted     []string
}

func (f *fakeSessions) Create(s *models.Session) error {
	f.calls++
	if f.fkFailFirst && f.calls == 1 {
		return fmt.Errorf("session create: %w", &pq.Error{Code: "23503"})
	}
	cp := *s
	f.created = append(f.created, &cp)
	return nil
}
func (f *fakeSessions) GetByToken(token string) (*models.Session, error) {
	for _, s := range f.created {
		if s.Token == token {
			return s, nil
		}
	}
	return nil, nil
}
func (f *fakeSessions) DeleteByToken(token string) error {
	f.deleted = append(f.deleted, token)
	return nil
}
func (f *fakeSessions) DeleteExpired(time.Time) (int64, error) { return 0, nil }
func (f *fakeSessions) AttachUser(string, int) error           { return nil }

// --- harness ---

type loginEnv struct {
	handler  *AuthHandler
	router   *gin.Engine
	users    *fakeUsers
	limiter  *fakeLimiter
	captcha  *fakeCaptcha
	otp      *fakeOtp
	sessions *fakeSessions
}

func verifiedUser() *models.User {
	return &models.User{
		ID:           1,
		Email:        "user@example.com",
		Username:     "user",
		PasswordHash: "goodpass1#hashed",
		Verified:     true,
	}
}

func newLoginEnv(t *testing.T) *loginEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec, err := utils.NewSessionTokenCodec("handler-test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	env := &loginEnv{
		users:    &fakeUsers{byEmail: map[string]*models.User{"user@example.com": verifiedUser()}},
		limiter:  &fakeLimiter{allow: true},
		captcha:  &fakeCaptcha{ok: true},
		otp:      &fakeOtp{outcome: services.OtpValid},
		sessions: &fakeSessions{},
	}
	env.handler = NewAuthHandler(
		env.users, fakeAuth{}, env.limiter, env.captcha, env.otp,
		env.sessions, codec, "clipstream_session",
	)
	env.handler.failDelay = func() {} // no artificial sleep in tests

	env.router = gin.New()
	env.router.POST("/login", env.handler.Login)
	env.router.POST("/logout", env.handler.Logout)
	return env
}

func (e *loginEnv) post(t *testing.T, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return m
}

// --- tests ---

func TestLoginMissingFields(t *testing.T) {
	env := newLoginEnv(t)

	for _, body := range []map[string]interface{}{
		{"password": "goodpass1"},
		{"email": "user@example.com"},
		{"email": "", "password": ""},
	} {
		if w := env.post(t, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %v: got status %d, want 400", body, w.Code)
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newLoginEnv(t)
	env.limiter.allow = false

	w := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "goodpass1"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want 429", w.Code)
	}
	if body := decodeBody(t, w); body["retry_after"] == nil {
		t.Error("429 response missing retry window hint")
	}
	if len(env.limiter.recorded) != 0 {
		t.Error("a denied attempt must not be recorded again")
	}
}

// Unknown user and wrong password produce the identical generic response, and
// both count against the rate limit.
func TestLoginInvalidCredentialsGeneric(t *testing.T) {
	env := newLoginEnv(t)

	wrongPw := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "nope"})
	noUser := env.post(t, map[string]interface{}{"email": "ghost@example.com", "password": "whatever"})

	for _, w := range []*httptest.ResponseRecorder{wrongPw, noUser} {
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("got status %d, want 401", w.Code)
		}
	}
	if wrongPw.Body.String() != noUser.Body.String() {
		t.Error("unknown-user and wrong-password responses must be indistinguishable")
	}
	if len(env.limiter.recorded) != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", len(env.limiter.recorded))
	}
}

// A honeytoken account with the correct password behaves exactly like bad
// credentials.
func TestLoginHoneytoken(t *testing.T) {
	env := newLoginEnv(t)
	decoy := verifiedUser()
	decoy.Honeytoken = true
	env.users.byEmail["user@example.com"] = decoy

	w := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "goodpass1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "invalid email or password" {
		t.Errorf("honeytoken leaked a distinct error: %v", body["error"])
	}
	if len(env.limiter.recorded) != 1 {
		t.Error("honeytoken hit must be recorded as a failed attempt")
	}
}

// Suspension is disclosed deliberately and never counts against the limiter.
func TestLoginSuspended(t *testing.T) {
	env := newLoginEnv(t)
	u := verifiedUser()
	u.Suspended = true
	u.SuspendReason = "terms of service violation"
	env.users.byEmail["user@example.com"] = u

	w := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "goodpass1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "terms of service violation" {
		t.Errorf("expected suspension reason, got %v", body["error"])
	}
	if len(env.limiter.recorded) != 0 {
		t.Error("suspended-account failure must not create a rate-limit record")
	}
}

func TestLoginUnverifiedAccount(t *testing.T) {
	env := newLoginEnv(t)
	u := verifiedUser()
	u.Verified = false
	env.users.byEmail["user@example.com"] = u

	w := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "goodpass1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", w.Code)
	}
	if body := decodeBody(t, w); !strings.Contains(body["error"].(string), "verify your email") {
		t.Errorf("expected verify-email message, got %v", body["error"])
	}
}

func TestLoginWeakPasswordPolicy(t *testing.T) {
	env := newLoginEnv(t)
	u := verifiedUser()
	u.PasswordHash = "weakone#hashed"
	env.users.byEmail["user@example.com"] = u

	w := env.post(t, map[string]interface{}{"email": "user@example.com", "password": "weakone"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
}

func TestLoginFirstPassCaptchaFailClosed(t *testing.T) {
	env := newLoginEnv(t)
	env.captcha.ok = false

	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1", "captcha_token": "tok",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", w.Code)
	}
	if len(env.otp.issuedTo) != 0 {
		t.Error("no code may be issued when the captcha fails")
	}
}

func TestLoginFirstPassIssuesCode(t *testing.T) {
	env := newLoginEnv(t)

	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"captcha_token": "tok", "fingerprint": "device-abc",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["verification_required"] != true || body["email_sent"] != true {
		t.Fatalf("unexpected first-pass body: %v", body)
	}
	if !env.captcha.called {
		t.Error("captcha was not consulted on the first pass")
	}
	if len(env.otp.issuedTo) != 1 || env.otp.issuedTo[0] != "user@example.com" {
		t.Fatalf("expected one code issued to the user, got %v", env.otp.issuedTo)
	}
	// the echoed fingerprint is the one the code was stored under
	if body["fingerprint"] != env.otp.issuedFp[0] {
		t.Error("first-pass response must echo the fingerprint used for the code")
	}
	if len(env.sessions.created) != 0 {
		t.Error("no session may exist before the second factor")
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Error("no cookie may be set on the first pass")
	}
}

func TestLoginSecondPassSuccess(t *testing.T) {
	env := newLoginEnv(t)

	before := time.Now()
	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": "device-abc", "verification_code": "123456",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}
	if env.captcha.called {
		t.Error("captcha must not be required on the code-completion pass")
	}

	body := decodeBody(t, w)
	if body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	userField, ok := body["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing user profile in response: %v", body)
	}
	if _, leaked := userField["password_hash"]; leaked {
		t.Error("password hash leaked in the login response")
	}

	expires, err := time.Parse(time.RFC3339, body["session_expires"].(string))
	if err != nil {
		t.Fatalf("session_expires not RFC3339: %v", err)
	}
	if d := expires.Sub(before); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("default session expiry %v not ≈ 24h", d)
	}

	cookie := w.Header().Get("Set-Cookie")
	for _, want := range []string{"clipstream_session=", "Path=/", "HttpOnly", "Secure", "SameSite=Strict", "Max-Age="} {
		if !strings.Contains(cookie, want) {
			t.Errorf("Set-Cookie missing %q: %s", want, cookie)
		}
	}

	if len(env.sessions.created) != 1 {
		t.Fatalf("expected 1 session, got %d", len(env.sessions.created))
	}
	s := env.sessions.created[0]
	if s.UserID == nil || *s.UserID != 1 || s.Email != "user@example.com" || !s.Verified {
		t.Errorf("unexpected session record: %+v", s)
	}
	if len(env.users.markedIDs) != 1 {
		t.Error("last-login bookkeeping was not attempted")
	}
}

func TestLoginRememberMeExtendsSession(t *testing.T) {
	env := newLoginEnv(t)

	before := time.Now()
	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": "device-abc", "verification_code": "123456", "remember_me": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	expires, err := time.Parse(time.RFC3339, decodeBody(t, w)["session_expires"].(string))
	if err != nil {
		t.Fatalf("session_expires not RFC3339: %v", err)
	}
	if d := expires.Sub(before); d < 89*24*time.Hour || d > 91*24*time.Hour {
		t.Errorf("remember-me expiry %v not ≈ 90 days", d)
	}
}

func TestLoginSecondPassBadCode(t *testing.T) {
	cases := []struct {
		outcome      services.OtpOutcome
		wantMsg      string
		wantRecorded int
	}{
		// a guessed code counts as a failed attempt; an expired one does not
		{services.OtpMismatch, "invalid verification code", 1},
		{services.OtpNotFound, "invalid verification code", 1},
		{services.OtpExpired, "verification code expired, request a new one", 0},
	}
	for _, tc := range cases {
		env := newLoginEnv(t)
		env.otp.outcome = tc.outcome

		w := env.post(t, map[string]interface{}{
			"email": "user@example.com", "password": "goodpass1",
			"fingerprint": "device-abc", "verification_code": "000000",
		})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("outcome %v: got status %d, want 401", tc.outcome, w.Code)
		}
		if body := decodeBody(t, w); body["error"] != tc.wantMsg {
			t.Errorf("outcome %v: got error %v, want %q", tc.outcome, body["error"], tc.wantMsg)
		}
		if len(env.sessions.created) != 0 {
			t.Error("no session may be created on a rejected code")
		}
		if got := len(env.limiter.recorded); got != tc.wantRecorded {
			t.Errorf("outcome %v: %d attempts recorded, want %d", tc.outcome, got, tc.wantRecorded)
		}
	}
}

// Bad code guesses share the abuse key with bad passwords, so the limiter
// shuts down a guessing loop within the code's lifetime.
func TestLoginCodeGuessingHitsRateLimit(t *testing.T) {
	env := newLoginEnv(t)
	env.otp.outcome = services.OtpMismatch

	for i := 0; i < 5; i++ {
		w := env.post(t, map[string]interface{}{
			"email": "user@example.com", "password": "goodpass1",
			"fingerprint": "device-abc", "verification_code": fmt.Sprintf("%06d", i),
		})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("guess %d: got status %d, want 401", i+1, w.Code)
		}
	}
	if len(env.limiter.recorded) != 5 {
		t.Fatalf("expected 5 recorded attempts, got %d", len(env.limiter.recorded))
	}

	env.limiter.allow = false // the real limiter denies after 5 in the window
	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": "device-abc", "verification_code": "999999",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th guess: got status %d, want 429", w.Code)
	}
}

// First insert hits a user-id FK mismatch; the retry persists the session
// with the email as the only cross-reference.
func TestLoginSessionInsertFKFallback(t *testing.T) {
	env := newLoginEnv(t)
	env.sessions.fkFailFirst = true

	w := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": "device-abc", "verification_code": "123456",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(env.sessions.created) != 1 {
		t.Fatalf("expected 1 session from the retry, got %d", len(env.sessions.created))
	}
	s := env.sessions.created[0]
	if s.UserID != nil {
		t.Error("degraded-mode session must omit the user id")
	}
	if s.Email != "user@example.com" {
		t.Error("degraded-mode session must keep the email reference")
	}
}

// memPendingRepo backs the real OTP service for the protocol-level tests.
type memPendingRepo struct {
	records map[string]*models.PendingVerification
}

func (r *memPendingRepo) key(email, fp string) string { return email + "|" + fp }

func (r *memPendingRepo) Upsert(v *models.PendingVerification) error {
	cp := *v
	r.records[r.key(v.Email, v.Fingerprint)] = &cp
	return nil
}

func (r *memPendingRepo) Get(email, fp string) (*models.PendingVerification, error) {
	v, ok := r.records[r.key(email, fp)]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *memPendingRepo) Delete(email, fp string) error {
	delete(r.records, r.key(email, fp))
	return nil
}

type codeRecorder struct {
	codes []string
}

func (c *codeRecorder) SendLoginCode(email, code string) error {
	c.codes = append(c.codes, code)
	return nil
}

// Full two-request flow on the fallback fingerprint path: the client sends no
// fingerprint of its own, echoes the one the server returned, and the emailed
// code must then verify against the stored record.
func TestLoginEchoBackFingerprintCompletes(t *testing.T) {
	env := newLoginEnv(t)
	emails := &codeRecorder{}
	realOtp := services.NewOtpService(&memPendingRepo{records: map[string]*models.PendingVerification{}}, emails)
	env.handler.otp = realOtp

	first := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1", "captcha_token": "tok",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first pass: got status %d: %s", first.Code, first.Body.String())
	}
	issued, ok := decodeBody(t, first)["fingerprint"].(string)
	if !ok || issued == "" {
		t.Fatal("first-pass response missing the fingerprint to echo back")
	}
	if len(emails.codes) != 1 {
		t.Fatalf("expected one emailed code, got %d", len(emails.codes))
	}

	second := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": issued, "verification_code": emails.codes[0],
	})
	if second.Code != http.StatusOK {
		t.Fatalf("echo-back second pass rejected: status=%d body=%s", second.Code, second.Body.String())
	}
	if !strings.Contains(second.Header().Get("Set-Cookie"), "clipstream_session=") {
		t.Fatal("completed login did not set the session cookie")
	}
	if len(env.sessions.created) != 1 || env.sessions.created[0].Email != "user@example.com" {
		t.Fatalf("expected one session for the user, got %v", env.sessions.created)
	}
}

// A client with its own stable fingerprint value sends the same value on both
// requests; it must keep matching too.
func TestLoginClientFingerprintCompletes(t *testing.T) {
	env := newLoginEnv(t)
	emails := &codeRecorder{}
	env.handler.otp = services.NewOtpService(&memPendingRepo{records: map[string]*models.PendingVerification{}}, emails)

	first := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"captcha_token": "tok", "fingerprint": "device-abc",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first pass: got status %d: %s", first.Code, first.Body.String())
	}

	second := env.post(t, map[string]interface{}{
		"email": "user@example.com", "password": "goodpass1",
		"fingerprint": "device-abc", "verification_code": emails.codes[0],
	})
	if second.Code != http.StatusOK {
		t.Fatalf("second pass rejected: status=%d body=%s", second.Code, second.Body.String())
	}
}

func TestLogoutDeletesSessionAndClearsCookie(t *testing.T) {
	env := newLoginEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: "clipstream_session", Value: "some-token"})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if len(env.sessions.deleted) != 1 || env.sessions.deleted[0] != "some-token" {
		t.Fatalf("expected the session row to be deleted, got %v", env.sessions.deleted)
	}
	if cookie := w.Header().Get("Set-Cookie"); !strings.Contains(cookie, "Max-Age=0") && !strings.Contains(cookie, "Max-Age=-1") {
		t.Errorf("logout should expire the cookie: %s", cookie)
	}
}
