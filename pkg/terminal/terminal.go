package terminal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antibyte/raamcode/pkg/auth"
	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"
	"github.com/antibyte/raamcode/pkg/samples"
	"github.com/antibyte/raamcode/pkg/session"
	"github.com/antibyte/raamcode/pkg/shared"

	"github.com/gorilla/websocket"
)

// MaxClientsDefault ist die maximale Anzahl gleichzeitiger Clients
const MaxClientsDefault = 100

// SampleLibrary is the part of samples.Store the terminal reads from
type SampleLibrary interface {
	List(ctx context.Context, variant brainfuck.Variant) ([]samples.Sample, error)
	Get(ctx context.Context, name string, variant brainfuck.Variant) (samples.Sample, error)
}

// TerminalHandler verwaltet WebSocket-Verbindungen und leitet Befehle an die Sitzungen weiter
type TerminalHandler struct {
	sessions  *session.Manager
	samples   SampleLibrary
	clients   map[*Client]bool
	mutex     sync.RWMutex
	upgrader  websocket.Upgrader
	validator *RequestValidator
}

// Client repräsentiert einen verbundenen WebSocket-Client
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *TerminalHandler
	ipAddress string
	sessionID string
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewTerminalHandler erstellt einen neuen TerminalHandler. library may be nil.
func NewTerminalHandler(sessions *session.Manager, library SampleLibrary) *TerminalHandler {
	return &TerminalHandler{
		sessions:  sessions,
		samples:   library,
		clients:   make(map[*Client]bool),
		validator: NewRequestValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  configuration.GetInt("WebSocket", "read_buffer_size", 4096),
			WriteBufferSize: configuration.GetInt("WebSocket", "write_buffer_size", 4096),
			CheckOrigin:     checkOrigin,
		},
	}
}

// checkOrigin accepts only origins listed in [WebSocket] allowed_origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logger.SecurityWarn("WebSocket request without Origin header rejected")
		return false
	}

	allowedOriginsStr := configuration.GetString("WebSocket", "allowed_origins", "http://localhost:8080,http://127.0.0.1:8080")
	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if origin == strings.TrimSpace(allowed) {
			return true
		}
	}

	logger.SecurityWarn("WebSocket request from disallowed origin rejected: %s", origin)
	return false
}

// clientIP ermittelt die IP-Adresse des Clients
func clientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	return r.RemoteAddr
}

// HandleWebSocket verarbeitet eingehende WebSocket-Verbindungen. The session token
// is taken from the Authorization header, cookie or token query parameter.
func (h *TerminalHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ipAddress := clientIP(r)

	if h.ClientCount() >= MaxClientsDefault {
		logger.SecurityWarn("Maximale Anzahl Clients erreicht, Verbindung abgelehnt: %s", ipAddress)
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	tokenString, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		logger.AuthWarn("WebSocket request without session token from %s", ipAddress)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateSessionToken(tokenString)
	if err != nil || ValidateSessionID(claims.SessionID) != nil {
		logger.AuthWarn("Invalid session token in WebSocket request from %s: %v", ipAddress, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocketError("WebSocket upgrade failed for %s: %v", ipAddress, err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, getMaxChannelBuffer()),
		handler:   h,
		ipAddress: ipAddress,
		sessionID: claims.SessionID,
		shutdown:  make(chan struct{}),
	}

	// Sitzung wurde inzwischen bereinigt: neue Sitzung mit neuem Token
	var greeting []shared.Message
	if _, err := h.sessions.Get(claims.SessionID); err != nil {
		greeting, err = h.replaceSession(client)
		if err != nil {
			logger.SessionWarn("Could not replace expired session for %s: %v", ipAddress, err)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached"))
			conn.Close()
			return
		}
	}

	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	logger.WebSocketInfo("Client connected from %s (Session: %s)", ipAddress, client.sessionID)

	go client.readPump()
	go client.writePump()

	greeting = append(greeting, h.sessionMessages(client.sessionID)...)
	h.SendMessagesToClient(client, greeting)
}

// replaceSession creates a new session for a client whose session expired
func (h *TerminalHandler) replaceSession(client *Client) ([]shared.Message, error) {
	id, err := h.sessions.CreateSession()
	if err != nil {
		return nil, err
	}
	token, err := auth.GenerateSessionToken(id)
	if err != nil {
		h.sessions.Remove(id)
		return nil, err
	}
	client.sessionID = id
	return []shared.Message{{Type: shared.MessageTypeSession, SessionID: id, Content: token}}, nil
}

// sessionMessages reports the current session state to a new connection
func (h *TerminalHandler) sessionMessages(sessionID string) []shared.Message {
	rep, err := h.sessions.Inspect(sessionID)
	if err != nil {
		return []shared.Message{shared.ErrorMessage(err)}
	}
	return []shared.Message{
		{Type: shared.MessageTypeSession, SessionID: sessionID},
		shared.StatusMessage(rep.Status, rep.Variant, rep.State),
	}
}

// ClientCount returns the number of connected clients
func (h *TerminalHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// cleanupClient entfernt einen Client und schließt seine Verbindung
func (h *TerminalHandler) cleanupClient(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client)
	h.mutex.Unlock()

	client.closeOnce.Do(func() {
		close(client.shutdown)
		client.conn.Close()
		logger.WebSocketDebug("Client %s disconnected (Session: %s)", client.ipAddress, client.sessionID)
	})
}

// ProcessRequest executes one client command against a session and returns the replies.
func (h *TerminalHandler) ProcessRequest(ctx context.Context, sessionID string, req shared.Request) []shared.Message {
	if err := h.validator.Validate(req); err != nil {
		logger.Warn(logger.AreaTerminal, "Rejected request from session %s: %v", sessionID, err)
		return []shared.Message{{Type: shared.MessageTypeError, Content: "INVALID REQUEST: " + err.Error()}}
	}
	if err := h.sessions.CheckRate(sessionID); err != nil {
		logger.SecurityWarn("%v", err)
		return []shared.Message{{Type: shared.MessageTypeError, Content: "TOO MANY REQUESTS"}}
	}

	logger.Debug(logger.AreaTerminal, "Session %s: %s (%d bytes)", sessionID, req.Command, len(req.Content))

	switch req.Command {
	case "load":
		return reportMessages(h.sessions.Load(sessionID, req.Content))

	case "run":
		if req.Content != "" {
			if _, err := h.sessions.Load(sessionID, req.Content); err != nil {
				return []shared.Message{shared.ErrorMessage(err)}
			}
		}
		return reportMessages(h.sessions.Run(ctx, sessionID))

	case "step":
		// Neuer Quelltext startet das Schrittprogramm von vorn
		if req.Content != "" {
			s, err := h.sessions.Get(sessionID)
			if err != nil {
				return []shared.Message{shared.ErrorMessage(err)}
			}
			if s.Source() != req.Content {
				if _, err := h.sessions.Load(sessionID, req.Content); err != nil {
					return []shared.Message{shared.ErrorMessage(err)}
				}
			}
		}
		return reportMessages(h.sessions.Step(sessionID))

	case "reset":
		return reportMessages(h.sessions.Reset(sessionID))

	case "variant":
		name := req.Variant
		if name == "" {
			name = req.Content
		}
		v, err := brainfuck.ParseVariant(name)
		if err != nil {
			return []shared.Message{shared.ErrorMessage(err)}
		}
		return reportMessages(h.sessions.SetVariant(sessionID, v))

	case "samples":
		return h.listSamples(ctx, sessionID, req)

	case "sample":
		return h.loadSample(ctx, sessionID, req)

	case "count":
		source, err := h.sourceOf(sessionID, req)
		if err != nil {
			return []shared.Message{shared.ErrorMessage(err)}
		}
		counts := brainfuck.CountWords(source)
		return []shared.Message{{Type: shared.MessageTypeCount, Content: brainfuck.FormatWordCounts(counts), Counts: counts}}

	case "condense":
		source, err := h.sourceOf(sessionID, req)
		if err != nil {
			return []shared.Message{shared.ErrorMessage(err)}
		}
		v, err := h.variantOf(sessionID, req)
		if err != nil {
			return []shared.Message{shared.ErrorMessage(err)}
		}
		return []shared.Message{{
			Type:    shared.MessageTypeSource,
			Variant: v.String(),
			Content: brainfuck.NewInstructionTable(v).Condense(source),
		}}
	}

	return []shared.Message{{Type: shared.MessageTypeError, Content: "UNKNOWN COMMAND"}}
}

// sourceOf returns the request content or the loaded source of the session
func (h *TerminalHandler) sourceOf(sessionID string, req shared.Request) (string, error) {
	if req.Content != "" {
		return req.Content, nil
	}
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	return s.Source(), nil
}

// variantOf returns the requested variant or the variant of the session
func (h *TerminalHandler) variantOf(sessionID string, req shared.Request) (brainfuck.Variant, error) {
	if req.Variant != "" {
		return brainfuck.ParseVariant(req.Variant)
	}
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return brainfuck.VariantLatin, err
	}
	return s.Variant(), nil
}

func (h *TerminalHandler) listSamples(ctx context.Context, sessionID string, req shared.Request) []shared.Message {
	if h.samples == nil {
		return []shared.Message{{Type: shared.MessageTypeSamples}}
	}
	v, err := h.variantOf(sessionID, req)
	if err != nil {
		return []shared.Message{shared.ErrorMessage(err)}
	}
	list, err := h.samples.List(ctx, v)
	if err != nil {
		logger.SamplesError("Listing samples failed: %v", err)
		return []shared.Message{{Type: shared.MessageTypeError, Content: "SAMPLES NOT AVAILABLE"}}
	}

	msg := shared.Message{Type: shared.MessageTypeSamples, Variant: v.String()}
	for _, sample := range list {
		msg.Samples = append(msg.Samples, shared.SampleInfo{Name: sample.Name, Description: sample.Description})
	}
	return []shared.Message{msg}
}

// loadSample loads a stored program into the session. The session switches to the
// sample's variant first.
func (h *TerminalHandler) loadSample(ctx context.Context, sessionID string, req shared.Request) []shared.Message {
	if h.samples == nil {
		return []shared.Message{{Type: shared.MessageTypeError, Content: "SAMPLES NOT AVAILABLE"}}
	}
	v, err := h.variantOf(sessionID, req)
	if err != nil {
		return []shared.Message{shared.ErrorMessage(err)}
	}
	name := req.Sample
	if name == "" {
		name = req.Content
	}
	sample, err := h.samples.Get(ctx, name, v)
	if err != nil {
		if errors.Is(err, samples.ErrSampleNotFound) {
			return []shared.Message{{Type: shared.MessageTypeError, Content: "SAMPLE NOT FOUND: " + name}}
		}
		logger.SamplesError("Loading sample %s failed: %v", name, err)
		return []shared.Message{{Type: shared.MessageTypeError, Content: "SAMPLES NOT AVAILABLE"}}
	}

	if _, err := h.sessions.SetVariant(sessionID, sample.Variant); err != nil {
		return []shared.Message{shared.ErrorMessage(err)}
	}
	messages := []shared.Message{{Type: shared.MessageTypeSource, Variant: sample.Variant.String(), Content: sample.Source}}
	return append(messages, reportMessages(h.sessions.Load(sessionID, sample.Source))...)
}

// reportMessages turns a session report into output, status, tape and error frames
func reportMessages(rep session.Report, err error) []shared.Message {
	if err != nil {
		return []shared.Message{shared.ErrorMessage(err)}
	}

	var messages []shared.Message
	if rep.State.Output != "" {
		messages = append(messages, shared.TextMessage(rep.State.Output))
	}
	messages = append(messages,
		shared.StatusMessage(rep.Status, rep.Variant, rep.State),
		shared.TapeMessage(rep.State),
	)
	if rep.Err != nil {
		messages = append(messages, shared.ErrorMessage(rep.Err))
	}
	return messages
}

// SendMessagesToClient serialisiert und verschickt mehrere Nachrichten
func (h *TerminalHandler) SendMessagesToClient(client *Client, messages []shared.Message) {
	for _, msg := range messages {
		client.writeMessage(msg)
	}
}

// Shutdown schließt alle Verbindungen
func (h *TerminalHandler) Shutdown() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		h.cleanupClient(c)
	}
}
