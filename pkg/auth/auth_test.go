package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type fakeCreator struct {
	id  string
	err error
}

func (f fakeCreator) CreateSession() (string, error) { return f.id, f.err }

// TestGenerateSessionID tests session ID generation
func TestGenerateSessionID(t *testing.T) {
	sessionID1 := generateSessionID()
	sessionID2 := generateSessionID()

	if sessionID1 == sessionID2 {
		t.Error("Session IDs should be unique")
	}
	if _, err := uuid.Parse(sessionID1); err != nil {
		t.Errorf("Session ID should be a UUID: %v", err)
	}
}

// TestSessionTokenRoundTrip tests JWT token creation and validation
func TestSessionTokenRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	token, err := GenerateSessionToken("session-123")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.SessionID != "session-123" {
		t.Errorf("Expected session ID session-123, got %s", claims.SessionID)
	}

	// a token signed with another secret must fail
	t.Setenv("JWT_SECRET_KEY", "other-secret")
	if _, err := ValidateSessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestExpiredSessionToken(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	claims := SessionClaims{
		SessionID: "expired",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    tokenIssuer,
			Subject:   subjectSession,
		},
	}
	token, err := sign(claims)
	if err != nil {
		t.Fatalf("Failed to create expired token: %v", err)
	}
	if _, err := ValidateSessionToken(token); err == nil {
		t.Error("Expired token should be rejected")
	}
}

// TestInvalidToken tests validation of malformed tokens
func TestInvalidToken(t *testing.T) {
	testCases := []string{
		"",
		"invalid.token.here",
		"eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9",
	}

	for _, token := range testCases {
		if _, err := ValidateSessionToken(token); err == nil {
			t.Errorf("Token %q should be invalid", token)
		}
	}
}

func TestStateTokenBinding(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	source := "++[>+<-]>."
	table := brainfuck.NewInstructionTable(brainfuck.VariantLatin)
	p := brainfuck.Compile(source, table)
	m := brainfuck.NewMachine()
	ip := 0
	for i := 0; i < 3; i++ {
		next, err := m.Step(p, ip)
		if err != nil {
			t.Fatalf("step failed: %v", err)
		}
		ip = next
	}

	token, err := GenerateStateToken("sid", brainfuck.VariantLatin, source, m.Snapshot())
	if err != nil {
		t.Fatalf("Failed to generate state token: %v", err)
	}

	claims, err := ValidateStateToken(token, brainfuck.VariantLatin, source)
	if err != nil {
		t.Fatalf("state token rejected: %v", err)
	}
	if claims.State.InstructionPointer != ip || len(claims.State.LoopStack) != 1 {
		t.Errorf("state not carried: %+v", claims.State)
	}

	if _, err := ValidateStateToken(token, brainfuck.VariantLatin, source+"+"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected ErrStateMismatch for other source, got %v", err)
	}
	if _, err := ValidateStateToken(token, brainfuck.VariantDevanagari, source); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected ErrStateMismatch for other variant, got %v", err)
	}

	// a session token is not a state token
	sessionToken, _ := GenerateSessionToken("sid")
	if _, err := ValidateStateToken(sessionToken, brainfuck.VariantLatin, source); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for session token, got %v", err)
	}
}

// TestSessionCreationHandler tests the session creation endpoint
func TestSessionCreationHandler(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	handler := HandleCreateSession(fakeCreator{id: "abc"})
	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !response.Success || response.SessionID != "abc" || response.Token == "" {
		t.Fatalf("unexpected response %+v", response)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || cookies[0].Value != response.Token {
		t.Errorf("session cookie not set: %v", cookies)
	}
}

func TestSessionCreationHandlerErrors(t *testing.T) {
	testCases := []struct {
		name     string
		method   string
		creator  SessionCreator
		expected int
	}{
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"preflight", http.MethodOptions, nil, http.StatusOK},
		{"limit reached", http.MethodPost, fakeCreator{err: errors.New("full")}, http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleCreateSession(tc.creator)(w, httptest.NewRequest(tc.method, "/api/session", nil))
			if w.Code != tc.expected {
				t.Errorf("Expected status %d, got %d", tc.expected, w.Code)
			}
		})
	}
}

func TestTokenValidationHandler(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	token, _ := GenerateSessionToken("validate-me")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	w := httptest.NewRecorder()
	HandleTokenValidation(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response SessionResponse
	json.NewDecoder(w.Body).Decode(&response)
	if response.SessionID != "validate-me" {
		t.Errorf("Expected session ID validate-me, got %q", response.SessionID)
	}

	w = httptest.NewRecorder()
	HandleTokenValidation(w, httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestRequireSession(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	token, _ := GenerateSessionToken("guarded")

	var seen string
	handler := RequireSession(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/api/run?token="+token, nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK || seen != "guarded" {
		t.Errorf("expected pass-through with session id, got %d and %q", w.Code, seen)
	}

	seen = ""
	req = httptest.NewRequest(http.MethodPost, "/api/run", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized || seen != "" {
		t.Errorf("expected 401 for bad token, got %d", w.Code)
	}
}

// TestExtractTokenFromRequest tests token extraction precedence
func TestExtractTokenFromRequest(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
		hasError bool
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc", false},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, "", true},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "c"}) }, "c", false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=q" }, "q", false},
		{"nothing", func(r *http.Request) {}, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			token, err := ExtractTokenFromRequest(req)
			if tc.hasError {
				if err == nil {
					t.Errorf("expected an error, got token %q", token)
				}
				return
			}
			if err != nil || token != tc.expected {
				t.Errorf("expected %q, got %q (%v)", tc.expected, token, err)
			}
		})
	}
}

func BenchmarkStateTokenGeneration(b *testing.B) {
	state := brainfuck.NewMachine().Snapshot()
	for i := 0; i < b.N; i++ {
		GenerateStateToken("bench", brainfuck.VariantLatin, "+++.", state)
	}
}
