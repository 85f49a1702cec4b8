package auth

import (
	"encoding/json"
	"net/http"

	"github.com/antibyte/raamcode/pkg/logger"

	"github.com/google/uuid"
)

// SessionCreator registers a new interpreter session and returns its id.
// Implemented by session.Manager.
type SessionCreator interface {
	CreateSession() (string, error)
}

// SessionResponse definiert die Struktur für Session-Antworten
type SessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message"`
}

// setCORSHeaders setzt die CORS-Header für die Auth-Endpunkte
func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

// HandleCreateSession returns a handler that creates a session and issues its token.
// With a nil creator only the id and token are generated.
func HandleCreateSession(creator SessionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, "POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			logger.AuthWarn("Invalid method for session creation: %s", r.Method)
			respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var sessionID string
		if creator != nil {
			id, err := creator.CreateSession()
			if err != nil {
				logger.AuthWarn("Session creation refused: %v", err)
				respondWithError(w, "Session limit reached", http.StatusServiceUnavailable)
				return
			}
			sessionID = id
		} else {
			sessionID = generateSessionID()
		}

		token, err := GenerateSessionToken(sessionID)
		if err != nil {
			logger.AuthError("Failed to generate JWT token for session %s: %v", sessionID, err)
			respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(getTokenExpiration().Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})

		logger.AuthInfo("New session created: %s for IP: %s", sessionID, getClientIP(r))
		json.NewEncoder(w).Encode(SessionResponse{
			Success:   true,
			SessionID: sessionID,
			Token:     token,
			Message:   "Session created successfully",
		})
	}
}

// HandleTokenValidation validiert ein Sitzungs-Token
func HandleTokenValidation(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		logger.AuthWarn("No token found in validation request: %v", err)
		respondWithError(w, "Token not found", http.StatusUnauthorized)
		return
	}
	claims, err := ValidateSessionToken(tokenString)
	if err != nil {
		logger.AuthWarn("Token validation failed: %v", err)
		respondWithError(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		SessionID: claims.SessionID,
		Message:   "Token valid",
	})
}

// generateSessionID creates a unique session ID
func generateSessionID() string {
	return uuid.New().String()
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// respondWithError sendet eine Fehlerantwort als JSON
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(SessionResponse{
		Success: false,
		Message: message,
	})
}
