package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
)

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.EmbeddingConfig{URL: srv.URL + "/", Timeout: 5 * time.Second})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestPreprocess(t *testing.T) {
	img := uniformImage(400, 300, color.RGBA{R: 255, G: 0, B: 128, A: 255})
	out := Preprocess(img)

	plane := cropSize * cropSize
	if len(out) != 3*plane {
		t.Fatalf("expected %d values, got %d", 3*plane, len(out))
	}

	want := [3]float32{
		(1 - imageNetMean[0]) / imageNetStd[0],
		(0 - imageNetMean[1]) / imageNetStd[1],
		(128.0/255 - imageNetMean[2]) / imageNetStd[2],
	}
	for c := range 3 {
		got := out[c*plane+plane/2]
		if math.Abs(float64(got-want[c])) > 1e-3 {
			t.Errorf("channel %d: got %f, want %f", c, got, want[c])
		}
	}
}

func TestExtractFeatures(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/infer/features" {
			http.NotFound(w, r)
			return
		}
		var req featuresRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Shape) != 3 || len(req.Data) != 3*cropSize*cropSize {
			http.Error(w, "bad tensor", http.StatusBadRequest)
			return
		}
		logits := make([]float32, constants.FeatureDim)
		logits[7] = 3.5
		writeJSON(t, w, featuresResponse{Logits: logits})
	}))

	features, err := client.ExtractFeatures(context.Background(), uniformImage(300, 300, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if len(features) != constants.FeatureDim {
		t.Fatalf("expected %d features, got %d", constants.FeatureDim, len(features))
	}
	if features[7] != 3.5 {
		t.Errorf("expected logit 7 to be 3.5, got %f", features[7])
	}
}

func TestExtractFeatures_WrongLength(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, featuresResponse{Logits: make([]float32, 10)})
	}))

	if _, err := client.ExtractFeatures(context.Background(), uniformImage(50, 50, color.RGBA{A: 255})); err == nil {
		t.Fatal("expected error for short logits")
	}
}

func TestDetectFaces(t *testing.T) {
	var embedCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/detect/faces", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("thresholds"); got != "0.6,0.7,0.7" {
			http.Error(w, "unexpected thresholds "+got, http.StatusBadRequest)
			return
		}
		writeJSON(t, w, detectResponse{
			Boxes: [][4]float64{
				{10, 10, 110, 110},   // accepted
				{0, 0, 30, 30},       // area below threshold
				{190, 0, 260, 100},   // clamped to 10px wide
				{100, 100, 180, 190}, // embed fails
			},
			Probs: []float64{0.99, 0.98, 0.97, 0.96},
		})
	})
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		if embedCalls.Add(1) == 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, faceEmbeddingResponse{Embedding: make([]float32, constants.FaceEmbeddingDim)})
	})
	client := newTestClient(t, mux)

	faces, err := client.DetectFaces(context.Background(), uniformImage(200, 200, color.RGBA{R: 90, A: 255}))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}

	if len(faces.Embeddings) != 1 || len(faces.Boxes) != 1 || len(faces.UserFaces) != 1 {
		t.Fatalf("expected exactly one accepted face, got %d/%d/%d",
			len(faces.Embeddings), len(faces.Boxes), len(faces.UserFaces))
	}
	if faces.Boxes[0][0] != 10 || faces.Boxes[0][2] != 110 {
		t.Errorf("unexpected box %v", faces.Boxes[0])
	}
	if faces.UserFaces[0] != constants.AnonFace {
		t.Errorf("expected %q, got %q", constants.AnonFace, faces.UserFaces[0])
	}
	if embedCalls.Load() != 2 {
		t.Errorf("expected 2 embed calls, got %d", embedCalls.Load())
	}
}

func TestDetectFaces_ClampsBoxes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/detect/faces", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, detectResponse{
			Boxes: [][4]float64{
				{-20, -20, 80, 80},   // clamped to 80x80
				{150, 150, 260, 260}, // clamped to 50x50, below threshold
			},
			Probs: []float64{0.99, 0.99},
		})
	})
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, faceEmbeddingResponse{Embedding: make([]float32, constants.FaceEmbeddingDim)})
	})
	client := newTestClient(t, mux)

	faces, err := client.DetectFaces(context.Background(), uniformImage(200, 200, color.RGBA{G: 90, A: 255}))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	if len(faces.Boxes) != 1 {
		t.Fatalf("expected one accepted face, got %v", faces.Boxes)
	}
	if want := (database.Box{0, 0, 80, 80}); faces.Boxes[0] != want {
		t.Errorf("expected stored box %v, got %v", want, faces.Boxes[0])
	}
}

func TestDetectFaces_NoFaces(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, detectResponse{})
	}))

	faces, err := client.DetectFaces(context.Background(), uniformImage(64, 64, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	if faces.Embeddings == nil || len(faces.Embeddings) != 0 {
		t.Errorf("expected empty non-nil embeddings, got %v", faces.Embeddings)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))

	img := uniformImage(32, 32, color.RGBA{A: 255})
	for range breakerFailures {
		if _, err := client.ExtractFeatures(context.Background(), img); err == nil {
			t.Fatal("expected error from failing server")
		}
	}

	_, err := client.ExtractFeatures(context.Background(), img)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once the breaker is open, got %v", err)
	}
	if int(calls.Load()) != breakerFailures {
		t.Errorf("expected %d server calls, got %d", breakerFailures, calls.Load())
	}
}

func TestFormatThresholds(t *testing.T) {
	if got := formatThresholds([3]float64{0.6, 0.7, 0.7}); got != "0.6,0.7,0.7" {
		t.Errorf("got %q", got)
	}
}
