package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/antibyte/raamcode/pkg/auth"
	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/samples"
	"github.com/antibyte/raamcode/pkg/session"
)

type testServer struct {
	mux   *http.ServeMux
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	store, err := samples.Open(context.Background(), filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("opening sample store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := session.Config{
		TapeSize:       brainfuck.DefaultTapeSize,
		StepLimit:      10000,
		RunTimeout:     time.Second,
		CondenseWords:  true,
		DefaultVariant: brainfuck.VariantLatin,
	}
	mux := http.NewServeMux()
	NewHandler(cfg, store).Register(mux)

	token, err := auth.GenerateSessionToken("api-test")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &testServer{mux: mux, token: token}
}

func (s *testServer) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decodeProgram(t *testing.T, w *httptest.ResponseRecorder) ProgramResponse {
	t.Helper()
	var resp ProgramResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestRun(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		req     ProgramRequest
		output  string
		success bool
		errText string
	}{
		{"latin", ProgramRequest{Source: "+++."}, "\x03", true, ""},
		{"devanagari", ProgramRequest{Source: "श श श न", Variant: "devanagari"}, "\x03", true, ""},
		{"error keeps partial output", ProgramRequest{Source: "+.<"}, "\x01", false, "DATA POINTER LEFT THE TAPE AT INDEX 2"},
		{"endless loop", ProgramRequest{Source: "+[]"}, "", false, "STEP LIMIT EXCEEDED (ENDLESS LOOP?) AT INDEX 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.post(t, "/api/run", tt.req)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeProgram(t, w)
			if resp.Output != tt.output || resp.Success != tt.success || resp.Error != tt.errText {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestRunRequiresSession(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte(`{"source":"+"}`)))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	if w := s.post(t, "/api/run", ProgramRequest{Source: "+", Variant: "klingon"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown variant, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/run", nil)
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

// TestStepWithStateTokens steps a loop program through stateless requests
func TestStepWithStateTokens(t *testing.T) {
	s := newTestServer(t)
	source := "++[>+<-]>."

	var resp ProgramResponse
	state := ""
	for i := 0; i < 100; i++ {
		w := s.post(t, "/api/step", ProgramRequest{Source: source, State: state})
		if w.Code != http.StatusOK {
			t.Fatalf("step %d: status %d: %s", i, w.Code, w.Body.String())
		}
		resp = decodeProgram(t, w)
		if resp.Halted {
			break
		}
		if resp.State == "" {
			t.Fatalf("step %d: no state token", i)
		}
		state = resp.State
	}

	expected, _ := brainfuck.NewMachine().Run(brainfuck.Compile(source, brainfuck.NewInstructionTable(brainfuck.VariantLatin)))
	if !resp.Halted || resp.Output != expected {
		t.Errorf("stepped result %+v, run output %q", resp, expected)
	}
	if resp.Status != "Current Index: 1" {
		t.Errorf("unexpected status %q", resp.Status)
	}
}

func TestStepStateMismatch(t *testing.T) {
	s := newTestServer(t)

	resp := decodeProgram(t, s.post(t, "/api/step", ProgramRequest{Source: "+++."}))
	if resp.State == "" {
		t.Fatal("missing state token")
	}

	if w := s.post(t, "/api/step", ProgramRequest{Source: "---.", State: resp.State}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for other source, got %d", w.Code)
	}
	if w := s.post(t, "/api/step", ProgramRequest{Source: "+++.", State: "forged"}); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for forged state, got %d", w.Code)
	}
	if w := s.post(t, "/api/step", ProgramRequest{Source: ""}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for empty program, got %d", w.Code)
	}
}

func TestCount(t *testing.T) {
	s := newTestServer(t)
	w := s.post(t, "/api/count", CountRequest{Source: "राम राम सीता"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []brainfuck.WordCount
	json.NewDecoder(w.Body).Decode(&rows)
	if len(rows) != 2 || rows[0].Word != "राम" || rows[0].Count != 2 {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestSamplesEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/samples?variant=devanagari", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []samples.Sample
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) == 0 || list[0].VariantName != "devanagari" {
		t.Errorf("unexpected list %+v", list)
	}

	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/samples/hello-world", nil))
	var sample samples.Sample
	json.NewDecoder(w.Body).Decode(&sample)
	if w.Code != http.StatusOK || sample.Name != "hello-world" || sample.VariantName != "latin" {
		t.Errorf("unexpected sample %d %+v", w.Code, sample)
	}

	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/samples/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/samples?variant=klingon", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
