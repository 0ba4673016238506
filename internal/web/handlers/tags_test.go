package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
)

func TestTagsHandler_AddToImage(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	env.catalog.PutImage(database.Image{ID: "img1", Features: []float32{0.5, 0.5}, AutoTags: []string{"beach"}})

	recorder := httptest.NewRecorder()
	handler.AddToImage(recorder, jsonRequest(t, http.MethodPost, "/api/v1/add-user-tag", map[string]any{
		"id":   "img1",
		"tags": []string{" beach ", ""},
	}))
	assertStatusCode(t, recorder, http.StatusOK)

	img := env.catalog.Image("img1")
	if !slices.Contains(img.UserTags, "beach") || slices.Contains(img.AutoTags, "beach") {
		t.Errorf("expected beach moved to user tags, got user=%v auto=%v", img.UserTags, img.AutoTags)
	}

	steps := env.recorder.Tasks(tasks.TrainStep)
	if len(steps) != 1 {
		t.Fatalf("expected 1 train_step, got %d", len(steps))
	}
	var p tasks.TrainStepPayload
	if err := steps[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if len(p.Target) != 1 || p.Target[0] != 1 {
		t.Errorf("expected target [1], got %v", p.Target)
	}
}

func TestTagsHandler_AddToImage_Errors(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	env.catalog.PutImage(database.Image{ID: "raw"})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"blank tags", `{"id": "raw", "tags": ["  "]}`, http.StatusBadRequest},
		{"missing id", `{"tags": ["dog"]}`, http.StatusBadRequest},
		{"unknown image", `{"id": "nope", "tags": ["dog"]}`, http.StatusNotFound},
		{"no features yet", `{"id": "raw", "tags": ["dog"]}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.AddToImage(recorder, jsonRequest(t, http.MethodPost, "/api/v1/add-user-tag", tc.body))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
	if n := len(env.recorder.Tasks(tasks.TrainStep)); n != 0 {
		t.Errorf("expected no train_step for an unanalysed image, got %d", n)
	}
}

func TestTagsHandler_TrainingFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	env.catalog.PutImage(database.Image{ID: "img1", Features: []float32{1}})
	env.catalog.UniqueTagsError = errors.New("connection reset")

	recorder := httptest.NewRecorder()
	handler.AddToImage(recorder, jsonRequest(t, http.MethodPost, "/api/v1/add-user-tag", `{"id": "img1", "tags": ["dog"]}`))

	assertStatusCode(t, recorder, http.StatusOK)
	if n := len(env.recorder.Tasks(tasks.TrainStep)); n != 0 {
		t.Errorf("expected no train_step, got %d", n)
	}
}

func TestTagsHandler_AddToAlbums(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	ctx := context.Background()
	parent, _ := env.catalog.CreateAlbum(ctx, "p", "")
	child, _ := env.catalog.CreateAlbum(ctx, "c", parent.ID)
	env.catalog.PutImage(database.Image{ID: "img1", AlbumID: child.ID, Features: []float32{1}})

	recorder := httptest.NewRecorder()
	handler.AddToAlbums(recorder, jsonRequest(t, http.MethodPost, "/api/v1/add-tags-to-albums", map[string]any{
		"tags":      []string{"mountain"},
		"album_ids": []string{parent.ID},
	}))
	assertStatusCode(t, recorder, http.StatusOK)

	if tags := env.catalog.Image("img1").UserTags; !slices.Equal(tags, []string{"mountain"}) {
		t.Errorf("expected [mountain], got %v", tags)
	}
	if n := len(env.recorder.Tasks(tasks.TrainStep)); n != 1 {
		t.Errorf("expected 1 train_step, got %d", n)
	}
}

func TestTagsHandler_RemoveAndList(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	ctx := context.Background()
	env.catalog.PutImage(database.Image{ID: "img1"})
	env.catalog.PutImage(database.Image{ID: "img2"})
	env.catalog.AddTagsToImages(ctx, []string{"cat"}, []string{"img1", "img2"})
	env.catalog.AddTagsToImages(ctx, []string{"dog"}, []string{"img1"})

	recorder := httptest.NewRecorder()
	handler.Remove(recorder, jsonRequest(t, http.MethodPost, "/api/v1/remove-user-tag", `{"id": "img1", "tags": ["dog"]}`))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.List(recorder, jsonRequest(t, http.MethodGet, "/api/v1/tags", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var tags []TagResponse
	parseJSONResponse(t, recorder, &tags)
	if len(tags) != 1 || tags[0] != (TagResponse{Name: "cat", Count: 2}) {
		t.Errorf("expected only cat=2, got %+v", tags)
	}

	recorder = httptest.NewRecorder()
	handler.Remove(recorder, jsonRequest(t, http.MethodPost, "/api/v1/remove-user-tag", `{"id": "missing", "tags": ["cat"]}`))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTagsHandler_Feedback(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTagsHandler(env.catalog, env.tagger)
	env.catalog.PutImage(database.Image{ID: "img1"})

	for _, body := range []string{
		`{"id": "img1", "tag": "sea", "is_positive": true}`,
		`{"id": "img1", "tag": "sea", "is_positive": true}`,
		`{"id": "img1", "tag": "sea", "is_positive": false}`,
	} {
		recorder := httptest.NewRecorder()
		handler.Feedback(recorder, jsonRequest(t, http.MethodPost, "/api/v1/feedback-on-tags", body))
		assertStatusCode(t, recorder, http.StatusOK)
	}

	fb := env.catalog.Image("img1").Feedback["sea"]
	if fb.Positive != 0 || fb.Negative != 1 {
		t.Errorf("expected a single negative vote, got %+v", fb)
	}

	recorder := httptest.NewRecorder()
	handler.Feedback(recorder, jsonRequest(t, http.MethodPost, "/api/v1/feedback-on-tags", `{"id": "img1", "tag": "sea"}`))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}
