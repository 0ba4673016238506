package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/database/mock"
	"github.com/kozaktomas/pixpursuit/internal/faces"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/library"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/storage"
	"github.com/kozaktomas/pixpursuit/internal/tagger"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/kozaktomas/pixpursuit/internal/web/middleware"
)

const testUser = "alice"

// testEnv wires handlers to the in-memory catalog, store and task recorder.
type testEnv struct {
	catalog  *mock.Catalog
	store    *storage.MemoryStore
	recorder *tasks.Recorder
	pipeline *ingest.Pipeline
	library  *library.Library
	tagger   *tagger.Service
	faces    *faces.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog := mock.NewCatalog()
	store := storage.NewMemoryStore("https://cdn.example.com/pixpursuit")
	rec := &tasks.Recorder{}
	return &testEnv{
		catalog:  catalog,
		store:    store,
		recorder: rec,
		pipeline: ingest.NewPipeline(catalog, store, rec, nil),
		library:  library.New(catalog, store, rec, nil),
		tagger: tagger.NewService(catalog, rec, config.TaggerConfig{
			ModelPath:    filepath.Join(t.TempDir(), "model.gob"),
			LearningRate: 0.001,
		}),
		faces: faces.NewManager(catalog, rec),
	}
}

func (e *testEnv) imagesHandler(scraper Scraper, sharePoint bool) *ImagesHandler {
	return NewImagesHandler(ImagesConfig{
		Catalog:    e.catalog,
		Ingester:   e.pipeline,
		Library:    e.library,
		Dispatcher: e.recorder,
		Zip:        sources.NewZipImporter(e.catalog, e.pipeline),
		Scraper:    scraper,
		SharePoint: sharePoint,
	})
}

// jsonRequest builds an authenticated request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return withUser(req, testUser)
}

func withUser(r *http.Request, user string) *http.Request {
	return r.WithContext(middleware.SetUserInContext(r.Context(), user))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
