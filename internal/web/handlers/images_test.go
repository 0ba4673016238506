package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds an authenticated multipart request. Files are keyed
// by form field and carry a file name.
func multipartRequest(t *testing.T, path string, fields map[string]string, field string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return withUser(req, testUser)
}

func TestImagesHandler_Process(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	req := multipartRequest(t, "/api/v1/process-images", nil, "images", map[string][]byte{
		"a.jpg": testJPEG(t, 64, 48),
		"b.txt": []byte("not an image"),
	})
	recorder := httptest.NewRecorder()
	handler.Process(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		InsertedIDs []string `json:"inserted_ids"`
	}
	parseJSONResponse(t, recorder, &resp)
	if len(resp.InsertedIDs) != 1 {
		t.Fatalf("expected 1 inserted id, got %v", resp.InsertedIDs)
	}

	img := env.catalog.Image(resp.InsertedIDs[0])
	if img == nil {
		t.Fatal("expected image in catalog")
	}
	if img.AddedBy != testUser {
		t.Errorf("expected added_by %q, got %q", testUser, img.AddedBy)
	}
	if n := len(env.recorder.Tasks(tasks.ExtractData)); n != 1 {
		t.Errorf("expected 1 extract_data task, got %d", n)
	}
}

func TestImagesHandler_Process_NoFiles(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	req := multipartRequest(t, "/api/v1/process-images", map[string]string{"album_id": "x"}, "images", nil)
	recorder := httptest.NewRecorder()
	handler.Process(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "no images provided")
}

func TestImagesHandler_Process_UnknownAlbum(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	req := multipartRequest(t, "/api/v1/process-images", map[string]string{"album_id": "missing"}, "images", map[string][]byte{
		"a.jpg": testJPEG(t, 16, 16),
	})
	recorder := httptest.NewRecorder()
	handler.Process(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestImagesHandler_UploadZip(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for _, name := range []string{"top.jpg", "trip/day1.jpg"} {
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(testJPEG(t, 32, 32))
	}
	zw.Close()

	req := multipartRequest(t, "/api/v1/upload-zip", map[string]string{"size": "16x16"}, "file", map[string][]byte{
		"photos.zip": archive.Bytes(),
	})
	recorder := httptest.NewRecorder()
	handler.UploadZip(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		InsertedIDs []string `json:"inserted_ids"`
	}
	parseJSONResponse(t, recorder, &resp)
	if len(resp.InsertedIDs) != 2 {
		t.Fatalf("expected 2 inserted ids, got %v", resp.InsertedIDs)
	}

	albums, err := env.catalog.ListAlbums(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].Name != "trip" {
		t.Errorf("expected one child album 'trip', got %+v", albums)
	}
}

func TestImagesHandler_UploadZip_BadSize(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	req := multipartRequest(t, "/api/v1/upload-zip", map[string]string{"size": "huge"}, "file", map[string][]byte{
		"photos.zip": []byte("PK"),
	})
	recorder := httptest.NewRecorder()
	handler.UploadZip(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

type fakeScraper struct {
	sources []ingest.Source
	err     error
}

func (f *fakeScraper) Scrape(context.Context, string) ([]ingest.Source, error) {
	return f.sources, f.err
}

func TestImagesHandler_Scrape(t *testing.T) {
	tests := []struct {
		name       string
		scraper    *fakeScraper
		wantStatus int
		wantIDs    int
	}{
		{"images", &fakeScraper{sources: []ingest.Source{{Name: "x.jpg", Data: testJPEG(t, 8, 8)}}}, http.StatusOK, 1},
		{"empty page", &fakeScraper{}, http.StatusOK, 0},
		{"not allowed", &fakeScraper{err: sources.ErrURLNotAllowed}, http.StatusBadRequest, -1},
		{"fetch failure", &fakeScraper{err: errors.New("connection refused")}, http.StatusBadGateway, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := env.imagesHandler(tc.scraper, false)

			req := jsonRequest(t, http.MethodPost, "/api/v1/scrape-images", map[string]string{"url": "https://example.com/gallery"})
			recorder := httptest.NewRecorder()
			handler.Scrape(recorder, req)

			assertStatusCode(t, recorder, tc.wantStatus)
			if tc.wantIDs < 0 {
				return
			}
			var resp struct {
				InsertedIDs []string `json:"inserted_ids"`
			}
			parseJSONResponse(t, recorder, &resp)
			if len(resp.InsertedIDs) != tc.wantIDs {
				t.Errorf("expected %d ids, got %v", tc.wantIDs, resp.InsertedIDs)
			}
		})
	}
}

func TestImagesHandler_SharePointUpload(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, true)

	req := jsonRequest(t, http.MethodPost, "/api/v1/sharepoint-upload", map[string]string{"folder": "Photos/2024"})
	recorder := httptest.NewRecorder()
	handler.SharePointUpload(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)
	queued := env.recorder.Tasks(tasks.SharePointIngest)
	if len(queued) != 1 {
		t.Fatalf("expected 1 sharepoint task, got %d", len(queued))
	}
	var p tasks.SharePointIngestPayload
	if err := queued[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Folder != "Photos/2024" || p.User != testUser {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestImagesHandler_SharePointUpload_Disabled(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	req := jsonRequest(t, http.MethodPost, "/api/v1/sharepoint-upload", map[string]string{"folder": "Photos"})
	recorder := httptest.NewRecorder()
	handler.SharePointUpload(recorder, req)

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	if n := len(env.recorder.Tasks("")); n != 0 {
		t.Errorf("expected no tasks, got %d", n)
	}
}

func TestImagesHandler_Delete(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{ID: "img1", Filename: "f1.jpg"})
	env.catalog.PutImage(database.Image{ID: "img2", Filename: "f2.jpg"})

	req := jsonRequest(t, http.MethodDelete, "/api/v1/delete-images", map[string]any{"image_ids": []string{"img1", "nope"}})
	recorder := httptest.NewRecorder()
	handler.Delete(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		Deleted int  `json:"deleted"`
		Partial bool `json:"partial"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.Deleted != 1 || resp.Partial {
		t.Errorf("unexpected result %+v", resp)
	}
	if env.catalog.Image("img1") != nil || env.catalog.Image("img2") == nil {
		t.Error("expected only img1 to be deleted")
	}
}

func TestImagesHandler_Delete_Validation(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"image_ids":`},
		{"missing ids", `{}`},
		{"empty ids", `{"image_ids": []}`},
		{"blank id", `{"image_ids": [""]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Delete(recorder, jsonRequest(t, http.MethodDelete, "/api/v1/delete-images", tc.body))
			assertStatusCode(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestImagesHandler_Relocate(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	ctx := context.Background()

	src, _ := env.catalog.CreateAlbum(ctx, "src", "")
	dst, _ := env.catalog.CreateAlbum(ctx, "dst", "")
	env.catalog.PutImage(database.Image{ID: "img1", AlbumID: src.ID})
	env.catalog.PutImage(database.Image{ID: "img2", AlbumID: src.ID})

	req := jsonRequest(t, http.MethodPut, "/api/v1/relocate-images", map[string]any{
		"prev_album_id": src.ID,
		"new_album_id":  dst.ID,
	})
	recorder := httptest.NewRecorder()
	handler.Relocate(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp map[string]int
	parseJSONResponse(t, recorder, &resp)
	if resp["moved"] != 2 {
		t.Errorf("expected 2 moved, got %d", resp["moved"])
	}
	if got := env.catalog.Image("img1").AlbumID; got != dst.ID {
		t.Errorf("expected img1 in %s, got %s", dst.ID, got)
	}
}

func TestImagesHandler_FindSimilar(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{ID: "a", Features: []float32{1, 0, 0}})
	env.catalog.PutImage(database.Image{ID: "b", Features: []float32{0.9, 0.1, 0}})
	env.catalog.PutImage(database.Image{ID: "c", Features: []float32{0, 0, 1}})

	req := jsonRequest(t, http.MethodPost, "/api/v1/find-similar", map[string]any{"image_id": "a", "limit": 1})
	recorder := httptest.NewRecorder()
	handler.FindSimilar(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		SimilarImages []SimilarImage `json:"similar_images"`
	}
	parseJSONResponse(t, recorder, &resp)
	if len(resp.SimilarImages) != 1 || resp.SimilarImages[0].ID != "b" {
		t.Errorf("expected [b], got %+v", resp.SimilarImages)
	}
}

func TestImagesHandler_FindSimilar_Errors(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{ID: "raw"})

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"limit too large", map[string]any{"image_id": "raw", "limit": 101}, http.StatusBadRequest},
		{"unknown image", map[string]any{"image_id": "nope"}, http.StatusNotFound},
		{"no features", map[string]any{"image_id": "raw"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.FindSimilar(recorder, jsonRequest(t, http.MethodPost, "/api/v1/find-similar", tc.body))
			assertStatusCode(t, recorder, tc.wantStatus)
		})
	}
}

func TestImagesHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{
		ID:         "img1",
		Filename:   "f.jpg",
		Features:   []float32{1, 2, 3},
		Embeddings: [][]float32{{0.1, 0.2}},
		UserFaces:  []string{"anon-1"},
	})

	req := requestWithChiParams(jsonRequest(t, http.MethodGet, "/api/v1/images/img1", nil), map[string]string{"id": "img1"})
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var raw map[string]any
	parseJSONResponse(t, recorder, &raw)
	if _, ok := raw["features"]; ok {
		t.Error("features must not be exposed")
	}
	if _, ok := raw["embeddings"]; ok {
		t.Error("embeddings must not be exposed")
	}
	if raw["analysed"] != true {
		t.Errorf("expected analysed true, got %v", raw["analysed"])
	}
}

func TestImagesHandler_Like(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{ID: "img1"})

	steps := []struct {
		body      string
		wantLikes int
	}{
		{`{"id": "img1", "is_positive": true}`, 1},
		{`{"id": "img1", "is_positive": true}`, 1},
		{`{"id": "img1", "is_positive": false}`, 0},
		{`{"id": "img1", "is_positive": false}`, 0},
	}
	for i, step := range steps {
		recorder := httptest.NewRecorder()
		handler.Like(recorder, jsonRequest(t, http.MethodPut, "/api/v1/like", step.body))
		assertStatusCode(t, recorder, http.StatusOK)
		if got := env.catalog.Image("img1").Likes; got != step.wantLikes {
			t.Errorf("step %d: expected %d likes, got %d", i, step.wantLikes, got)
		}
	}

	recorder := httptest.NewRecorder()
	handler.Like(recorder, jsonRequest(t, http.MethodPut, "/api/v1/like", `{"id": "img1"}`))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestImagesHandler_ViewAndDescription(t *testing.T) {
	env := newTestEnv(t)
	handler := env.imagesHandler(nil, false)
	env.catalog.PutImage(database.Image{ID: "img1"})

	recorder := httptest.NewRecorder()
	handler.View(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/v1/images/img1/view", nil), map[string]string{"id": "img1"}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Description(recorder, jsonRequest(t, http.MethodPut, "/api/v1/description", map[string]string{"id": "img1", "description": "sunset"}))
	assertStatusCode(t, recorder, http.StatusOK)

	img := env.catalog.Image("img1")
	if img.Views != 1 || img.Description != "sunset" {
		t.Errorf("expected 1 view and description, got %d %q", img.Views, img.Description)
	}

	recorder = httptest.NewRecorder()
	handler.View(recorder, requestWithChiParams(jsonRequest(t, http.MethodPut, "/api/v1/images/x/view", nil), map[string]string{"id": "x"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}
