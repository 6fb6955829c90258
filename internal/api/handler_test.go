package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gsarma/coderunner/internal/helper"
	"github.com/gsarma/coderunner/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubQuerier implements store.Querier for api handler tests.
// Only the Fn fields that are set are wired up; all others return zero values.
type stubQuerier struct {
	createFn     func(ctx context.Context, arg store.CreateExecutionParams) (store.Execution, error)
	getFn        func(ctx context.Context, id uuid.UUID) (store.Execution, error)
	upsertFn     func(ctx context.Context, arg store.Problem) (store.Problem, error)
	getProblemFn func(ctx context.Context, name string) (store.Problem, error)
	listFn       func(ctx context.Context) ([]store.Problem, error)
}

func (s *stubQuerier) CreateExecution(ctx context.Context, arg store.CreateExecutionParams) (store.Execution, error) {
	if s.createFn != nil {
		return s.createFn(ctx, arg)
	}
	return store.Execution{ID: uuid.New()}, nil
}
func (s *stubQuerier) GetExecution(ctx context.Context, id uuid.UUID) (store.Execution, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return store.Execution{}, store.ErrNoRows
}
func (s *stubQuerier) ClaimNextExecution(ctx context.Context) (store.Execution, error) {
	return store.Execution{}, store.ErrNoRows
}
func (s *stubQuerier) FinishExecution(ctx context.Context, arg store.FinishExecutionParams) (store.Execution, error) {
	return store.Execution{}, nil
}
func (s *stubQuerier) UpsertProblem(ctx context.Context, arg store.Problem) (store.Problem, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, arg)
	}
	return arg, nil
}
func (s *stubQuerier) GetProblem(ctx context.Context, name string) (store.Problem, error) {
	if s.getProblemFn != nil {
		return s.getProblemFn(ctx, name)
	}
	return store.Problem{}, store.ErrNoRows
}
func (s *stubQuerier) ListProblems(ctx context.Context) ([]store.Problem, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

// Compile-time interface check.
var _ store.Querier = (*stubQuerier)(nil)

func newHandler(q store.Querier) *Handler {
	return &Handler{queries: q, responder: helper.Explainer{}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ginCtx builds a Gin test context for a handler call.
func ginCtx(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

// --- GetTemplate tests ---

func TestGetTemplate_Known_ReturnsText(t *testing.T) {
	h := newHandler(&stubQuerier{})
	c, w := ginCtx("GET", "/get_template?language=Python", nil)
	h.GetTemplate(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Hello, World!") {
		t.Errorf("expected python template, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}
}

func TestGetTemplate_Unknown_Returns404(t *testing.T) {
	h := newHandler(&stubQuerier{})
	c, w := ginCtx("GET", "/get_template?language=Cobol", nil)
	h.GetTemplate(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetTemplate_Missing_Returns400(t *testing.T) {
	h := newHandler(&stubQuerier{})
	c, w := ginCtx("GET", "/get_template", nil)
	h.GetTemplate(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Submit tests ---

func TestSubmit_QueuesAndReturnsRawID(t *testing.T) {
	id := uuid.New()
	var gotParams store.CreateExecutionParams
	q := &stubQuerier{
		createFn: func(_ context.Context, arg store.CreateExecutionParams) (store.Execution, error) {
			gotParams = arg
			return store.Execution{ID: id, Language: arg.Language}, nil
		},
	}
	h := newHandler(q)

	body, _ := json.Marshal(map[string]string{
		"code": "print(input())", "language": "Python", "problem": "one", "input": "7",
	})
	c, w := ginCtx("POST", "/submit", body)
	h.Submit(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != id.String() {
		t.Errorf("expected raw id %s, got %q", id, w.Body.String())
	}
	if gotParams.Stdin != "7" {
		t.Errorf("expected input to be stored as stdin, got %q", gotParams.Stdin)
	}
	if gotParams.Problem != "one" {
		t.Errorf("expected problem=one, got %q", gotParams.Problem)
	}
}

func TestSubmit_MissingField_Returns400(t *testing.T) {
	h := newHandler(&stubQuerier{})
	body, _ := json.Marshal(map[string]string{"language": "C"}) // missing code
	c, w := ginCtx("POST", "/submit", body)
	h.Submit(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing code, got %d", w.Code)
	}
}

func TestSubmit_UnsupportedLanguage_Returns400(t *testing.T) {
	h := newHandler(&stubQuerier{})
	body, _ := json.Marshal(map[string]string{"code": "x", "language": "Cobol"})
	c, w := ginCtx("POST", "/submit", body)
	h.Submit(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSubmit_StoreError_Returns500(t *testing.T) {
	q := &stubQuerier{
		createFn: func(_ context.Context, _ store.CreateExecutionParams) (store.Execution, error) {
			return store.Execution{}, errors.New("disk full")
		},
	}
	h := newHandler(q)
	body, _ := json.Marshal(map[string]string{"code": "x", "language": "C"})
	c, w := ginCtx("POST", "/submit", body)
	h.Submit(c)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// --- Check tests ---

func checkResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestCheck_Finished(t *testing.T) {
	id := uuid.New()
	q := &stubQuerier{
		getFn: func(_ context.Context, got uuid.UUID) (store.Execution, error) {
			if got != id {
				t.Errorf("unexpected id %s", got)
			}
			return store.Execution{
				ID: id, Status: store.StatusFinished, Success: true,
				RuntimeMs: 12, Output: "hi\n", ExitStatus: "Accepted",
			}, nil
		},
	}
	h := newHandler(q)

	body, _ := json.Marshal(id.String())
	c, w := ginCtx("POST", "/check", body)
	h.Check(c)

	resp := checkResponse(t, w)
	if resp["status"] != "FINISHED" {
		t.Errorf("expected status=FINISHED, got %v", resp["status"])
	}
	if resp["output"] != "hi\n" {
		t.Errorf("expected output=hi, got %v", resp["output"])
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp["success"])
	}
	if resp["runtime"] != float64(12) {
		t.Errorf("expected runtime=12, got %v", resp["runtime"])
	}
	if resp["exitStatus"] != "Accepted" {
		t.Errorf("expected exitStatus=Accepted, got %v", resp["exitStatus"])
	}
}

func TestCheck_QueuedIsRunning(t *testing.T) {
	q := &stubQuerier{
		getFn: func(_ context.Context, id uuid.UUID) (store.Execution, error) {
			return store.Execution{ID: id, Status: store.StatusQueued}, nil
		},
	}
	h := newHandler(q)

	c, w := ginCtx("POST", "/check", []byte(uuid.NewString()))
	h.Check(c)

	resp := checkResponse(t, w)
	if resp["status"] != "RUNNING" {
		t.Errorf("expected status=RUNNING, got %v", resp["status"])
	}
	if _, ok := resp["output"]; ok {
		t.Error("expected no result fields while running")
	}
}

func TestCheck_Unknown_ReturnsNonexistent(t *testing.T) {
	cases := map[string][]byte{
		"unknown uuid": []byte(`"` + uuid.NewString() + `"`),
		"not a uuid":   []byte(`"abc-123"`),
		"bad json":     []byte(`"unterminated`),
		"empty":        nil,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHandler(&stubQuerier{})
			c, w := ginCtx("POST", "/check", body)
			h.Check(c)

			resp := checkResponse(t, w)
			if resp["status"] != "NONEXISTENT" {
				t.Errorf("expected status=NONEXISTENT, got %v", resp["status"])
			}
		})
	}
}

func TestCheck_StoreError_Returns500(t *testing.T) {
	q := &stubQuerier{
		getFn: func(_ context.Context, _ uuid.UUID) (store.Execution, error) {
			return store.Execution{}, errors.New("boom")
		},
	}
	h := newHandler(q)
	c, w := ginCtx("POST", "/check", []byte(uuid.NewString()))
	h.Check(c)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// --- Routes and auth ---

func TestRoutes_TokenRequired(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, store.NewMemory(), Config{Token: "s3cret", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"not bearer", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/get_template?language=C", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRoutes_PreflightSkipsAuth(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, store.NewMemory(), Config{Token: "s3cret", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	req := httptest.NewRequest("OPTIONS", "/submit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS header, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRoutes_SubmitThenCheck(t *testing.T) {
	r := gin.New()
	RegisterRoutes(r, store.NewMemory(), Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	body, _ := json.Marshal(map[string]string{"code": "int main(){}", "language": "C"})
	req := httptest.NewRequest("POST", "/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	id := w.Body.String()

	checkBody, _ := json.Marshal(id)
	req = httptest.NewRequest("POST", "/check", bytes.NewReader(checkBody))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	resp := checkResponse(t, w)
	if resp["status"] != "RUNNING" {
		t.Errorf("expected queued execution to report RUNNING, got %v", resp["status"])
	}
}
