package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Default values - actual values are loaded from configuration
	defaultJWTSecret = "fallback_secret_change_in_production"
	tokenIssuer      = "raamcode"

	subjectSession = "session"
	subjectState   = "state"

	// SessionCookieName is the cookie HandleCreateSession sets
	SessionCookieName = "session_token"
)

var (
	// ErrStateMismatch is returned when a state token was issued for other source or variant
	ErrStateMismatch = errors.New("state token does not belong to this program")
	ErrNoToken       = errors.New("no token found in request")
	ErrInvalidToken  = errors.New("invalid token")
)

// getJWTSecret retrieves the JWT secret from environment variable or configuration
func getJWTSecret() string {
	if envSecret := os.Getenv("JWT_SECRET_KEY"); envSecret != "" {
		return envSecret
	}

	secret := configuration.GetString("JWT", "secret_key", "")
	if secret == "" {
		secret = defaultJWTSecret
	}
	if secret == defaultJWTSecret {
		logger.SecurityWarn("Using fallback JWT secret - set JWT_SECRET_KEY environment variable for production!")
	}
	return secret
}

func getTokenExpiration() time.Duration {
	hours := configuration.GetInt("JWT", "token_expiration_hours", 24)
	return time.Duration(hours) * time.Hour
}

// State tokens only have to survive a stepping session in the browser
func getStateTokenExpiration() time.Duration {
	minutes := configuration.GetInt("JWT", "state_token_minutes", 60)
	return time.Duration(minutes) * time.Minute
}

// SessionClaims definiert die Ansprüche eines Sitzungs-Tokens
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// StateClaims carry a machine snapshot between two stateless step requests.
type StateClaims struct {
	SessionID  string          `json:"sid,omitempty"`
	Variant    string          `json:"variant"`
	SourceHash string          `json:"src"`
	State      brainfuck.State `json:"state"`
	jwt.RegisteredClaims
}

// SourceHash returns the hex SHA-256 of source a state token is bound to
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func registeredClaims(id, subject string, lifetime time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
		Subject:   subject,
		ID:        id,
	}
}

func sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(getJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("token konnte nicht signiert werden: %w", err)
	}
	return signedToken, nil
}

// parse validates signature, algorithm, expiry, issuer and subject
func parse(tokenString string, claims jwt.Claims, subject string) error {
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(getJWTSecret()), nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// GenerateSessionToken generates a JWT token for a session
func GenerateSessionToken(sessionID string) (string, error) {
	claims := SessionClaims{
		SessionID:        sessionID,
		RegisteredClaims: registeredClaims(sessionID, subjectSession, getTokenExpiration()),
	}
	signedToken, err := sign(claims)
	if err != nil {
		return "", err
	}
	logger.AuthInfo("Sitzungstoken generiert für Session ID: %s", sessionID)
	return signedToken, nil
}

// ValidateSessionToken validates a JWT token for a session
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := parse(tokenString, claims, subjectSession); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}

// GenerateStateToken signs a machine snapshot for the given program source.
func GenerateStateToken(sessionID string, variant brainfuck.Variant, source string, state brainfuck.State) (string, error) {
	claims := StateClaims{
		SessionID:        sessionID,
		Variant:          variant.String(),
		SourceHash:       SourceHash(source),
		State:            state,
		RegisteredClaims: registeredClaims(sessionID, subjectState, getStateTokenExpiration()),
	}
	signedToken, err := sign(claims)
	if err != nil {
		return "", err
	}
	logger.AuthDebug("State token issued at ip=%d for session %q", state.InstructionPointer, sessionID)
	return signedToken, nil
}

// ValidateStateToken checks a state token and that it was issued for source
// compiled as variant.
func ValidateStateToken(tokenString string, variant brainfuck.Variant, source string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := parse(tokenString, claims, subjectState); err != nil {
		return nil, err
	}
	if claims.Variant != variant.String() || claims.SourceHash != SourceHash(source) {
		logger.SecurityWarn("State token presented for different program (session %q)", claims.SessionID)
		return nil, ErrStateMismatch
	}
	return claims, nil
}

// ExtractTokenFromRequest extracts the session token from the HTTP request.
// The token can be passed in the Authorization header (Bearer Token), as a cookie
// or as token query parameter.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" { // Format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}

// RequireSession ist ein Middleware für HTTP-Handler, die einen gültigen Sitzungs-Token erfordert
func RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// OPTIONS-Anfrage für CORS-Preflight erlauben ohne Token-Überprüfung
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.AuthWarn("Kein Token im Request gefunden: %v", err)
			http.Error(w, "Unauthorized: token missing", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateSessionToken(tokenString)
		if err != nil {
			logger.AuthWarn("Ungültiger Token: %v", err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}
