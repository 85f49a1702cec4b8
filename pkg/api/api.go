// Package api serves the interpreter over plain HTTP. Stepping is stateless: the
// machine state travels between requests in a signed state token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/antibyte/raamcode/pkg/auth"
	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/logger"
	"github.com/antibyte/raamcode/pkg/samples"
	"github.com/antibyte/raamcode/pkg/session"
	"github.com/antibyte/raamcode/pkg/terminal"
)

// maxBodyBytes leaves room for JSON escaping of a maximal source
const maxBodyBytes = 8 * terminal.MaxSourceLength

// Handler serves the /api endpoints
type Handler struct {
	config  session.Config
	samples terminal.SampleLibrary
}

// NewHandler creates the API handler. library may be nil.
func NewHandler(config session.Config, library terminal.SampleLibrary) *Handler {
	return &Handler{config: config, samples: library}
}

// ProgramRequest is the body of run and step requests
type ProgramRequest struct {
	Source  string `json:"source"`
	Variant string `json:"variant,omitempty"`
	State   string `json:"state,omitempty"` // state token of the previous step
}

// ProgramResponse reports the machine after run or step
type ProgramResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Status  string `json:"status"`
	IP      int    `json:"ip"`
	DP      int    `json:"dp"`
	Tape    []int  `json:"tape"`
	Halted  bool   `json:"halted"`
	Error   string `json:"error,omitempty"`
	State   string `json:"state,omitempty"` // token for the next step
}

// CountRequest is the body of count requests
type CountRequest struct {
	Source string `json:"source"`
}

// Register mounts the endpoints on mux. Program endpoints require a session token.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/run", auth.RequireSession(h.HandleRun))
	mux.HandleFunc("/api/step", auth.RequireSession(h.HandleStep))
	mux.HandleFunc("/api/count", auth.RequireSession(h.HandleCount))
	mux.HandleFunc("/api/samples", h.HandleSamples)
	mux.HandleFunc("/api/samples/", h.HandleSample)
}

// HandleRun executes a whole program
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req ProgramRequest
	v, ok := h.decodeProgram(w, r, &req)
	if !ok {
		return
	}

	ctx := r.Context()
	if h.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RunTimeout)
		defer cancel()
	}

	m := brainfuck.NewMachine(h.config.MachineOptions()...)
	_, err := m.RunContext(ctx, session.CompileSource(req.Source, v, h.config.CondenseWords))
	respondJSON(w, http.StatusOK, machineResponse(m, err))
}

// HandleStep executes one opcode. Without a state token the program starts from a
// fresh machine; with one, the token's state is restored first.
func (h *Handler) HandleStep(w http.ResponseWriter, r *http.Request) {
	var req ProgramRequest
	v, ok := h.decodeProgram(w, r, &req)
	if !ok {
		return
	}
	sessionID := auth.SessionIDFromContext(r.Context())

	m := brainfuck.NewMachine(h.config.MachineOptions()...)
	if req.State != "" {
		claims, err := auth.ValidateStateToken(req.State, v, req.Source)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrStateMismatch) {
				status = http.StatusConflict
			}
			respondError(w, status, err.Error())
			return
		}
		if err := m.Restore(claims.State); err != nil {
			respondError(w, http.StatusBadRequest, brainfuck.FriendlyErrorText(err))
			return
		}
		// halted programs start over
		if claims.State.Halted {
			m.Reset()
		}
	}

	p := session.CompileSource(req.Source, v, h.config.CondenseWords)
	_, err := m.Step(p, m.InstructionPointer())
	if errors.Is(err, brainfuck.ErrEmptyProgram) {
		respondError(w, http.StatusUnprocessableEntity, brainfuck.FriendlyErrorText(err))
		return
	}

	resp := machineResponse(m, err)
	if err == nil {
		token, tokenErr := auth.GenerateStateToken(sessionID, v, req.Source, m.Snapshot())
		if tokenErr != nil {
			logger.AuthError("State token for session %s failed: %v", sessionID, tokenErr)
			respondError(w, http.StatusInternalServerError, "state token could not be issued")
			return
		}
		resp.State = token
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleCount returns the word frequency table of a source
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req CountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	respondJSON(w, http.StatusOK, brainfuck.CountWords(req.Source))
}

// HandleSamples lists the samples of ?variant= (default latin)
func (h *Handler) HandleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "samples not available")
		return
	}
	v, err := brainfuck.ParseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.samples.List(r.Context(), v)
	if err != nil {
		logger.SamplesError("Listing samples failed: %v", err)
		respondError(w, http.StatusInternalServerError, "samples not available")
		return
	}
	if list == nil {
		list = []samples.Sample{}
	}
	respondJSON(w, http.StatusOK, list)
}

// HandleSample returns /api/samples/{name}?variant=
func (h *Handler) HandleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.samples == nil {
		respondError(w, http.StatusServiceUnavailable, "samples not available")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/samples/")
	if name == "" || strings.Contains(name, "/") {
		respondError(w, http.StatusNotFound, "sample not found")
		return
	}
	v, err := brainfuck.ParseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sample, err := h.samples.Get(r.Context(), name, v)
	if errors.Is(err, samples.ErrSampleNotFound) {
		respondError(w, http.StatusNotFound, "sample not found")
		return
	}
	if err != nil {
		logger.SamplesError("Loading sample %s failed: %v", name, err)
		respondError(w, http.StatusInternalServerError, "samples not available")
		return
	}
	respondJSON(w, http.StatusOK, sample)
}

// decodeProgram reads a ProgramRequest and resolves its variant
func (h *Handler) decodeProgram(w http.ResponseWriter, r *http.Request, req *ProgramRequest) (brainfuck.Variant, bool) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return 0, false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return 0, false
	}
	if len(req.Source) > terminal.MaxSourceLength {
		respondError(w, http.StatusRequestEntityTooLarge, "source too long")
		return 0, false
	}

	v := h.config.DefaultVariant
	if req.Variant != "" {
		parsed, err := brainfuck.ParseVariant(req.Variant)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return 0, false
		}
		v = parsed
	}
	return v, true
}

func machineResponse(m *brainfuck.Machine, err error) ProgramResponse {
	state := m.Snapshot()
	resp := ProgramResponse{
		Success: err == nil,
		Output:  state.Output,
		Status:  brainfuck.StatusLine(m),
		IP:      state.InstructionPointer,
		DP:      state.DataPointer,
		Tape:    state.Tape,
		Halted:  state.Halted,
	}
	if err != nil {
		resp.Error = brainfuck.FriendlyErrorText(err)
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
