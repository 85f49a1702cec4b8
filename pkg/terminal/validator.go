package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/antibyte/raamcode/pkg/shared"
)

// Sicherheitskonstanten für die Anfragevalidierung
const (
	MaxSourceLength = 64 * 1024 // Maximale Quelltextlänge in Bytes
	MaxNameLength   = 128
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrSourceTooLong  = errors.New("source too long")
	ErrInvalidText    = errors.New("text is not valid UTF-8")
)

var knownCommands = map[string]bool{
	"load":     true,
	"run":      true,
	"step":     true,
	"reset":    true,
	"variant":  true,
	"samples":  true,
	"sample":   true,
	"count":    true,
	"condense": true,
}

// RequestValidator prüft eingehende Anfragen
type RequestValidator struct {
	MaxSourceLength int
}

// NewRequestValidator erstellt einen neuen Validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{MaxSourceLength: MaxSourceLength}
}

// Decode parses a websocket frame into a request and checks it
func (v *RequestValidator) Decode(data []byte) (shared.Request, error) {
	var req shared.Request

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid JSON: %w", err)
	}
	return req, v.Validate(req)
}

// Validate checks command, lengths and encoding of req
func (v *RequestValidator) Validate(req shared.Request) error {
	if !knownCommands[req.Command] {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	if len(req.Content) > v.MaxSourceLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrSourceTooLong, len(req.Content), v.MaxSourceLength)
	}
	if !utf8.ValidString(req.Content) {
		return ErrInvalidText
	}
	if len(req.Sample) > MaxNameLength || len(req.Variant) > MaxNameLength {
		return fmt.Errorf("%w: name too long", ErrSourceTooLong)
	}
	return nil
}

// ValidateSessionID prüft die Gültigkeit einer Session-ID
func ValidateSessionID(sessionID string) error {
	if len(sessionID) == 0 {
		return fmt.Errorf("session ID is empty")
	}
	if len(sessionID) > MaxNameLength {
		return fmt.Errorf("session ID too long")
	}

	// Nur alphanumerische Zeichen und Bindestriche erlauben
	for _, r := range sessionID {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return fmt.Errorf("session ID contains invalid characters")
		}
	}
	return nil
}
