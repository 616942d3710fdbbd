package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/models"
)

type fakeSearcher struct {
	err       error
	gotQuery  string
	gotK      int
	gotImage  []byte
	imageHits []models.ImageHit
	records   []models.RecordHit
}

func (f *fakeSearcher) SearchByText(_ context.Context, query string, k int) ([]models.ImageHit, error) {
	f.gotQuery, f.gotK = query, k
	return f.imageHits, f.err
}

func (f *fakeSearcher) SearchByImage(_ context.Context, data []byte, k int) ([]models.RecordHit, error) {
	f.gotImage, f.gotK = data, k
	return f.records, f.err
}

func (f *fakeSearcher) SearchByTextAlternateModel(_ context.Context, query string, k int) ([]models.RecordHit, error) {
	f.gotQuery, f.gotK = query, k
	return f.records, f.err
}

func newTestServer(f *fakeSearcher) http.Handler {
	return NewServer(f, &config.ServerConfig{Port: 8080}, nil).Handler()
}

func TestHandleSearchText(t *testing.T) {
	f := &fakeSearcher{imageHits: []models.ImageHit{
		{RecordID: 7, AssetID: 70, Name: "Jane Doe", Distance: 0.12},
		{RecordID: 9, AssetID: 90, Name: "Unknown Unknown", Distance: 0.3, Missing: true},
	}}
	srv := newTestServer(f)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/text", strings.NewReader(`{"query":"red jacket","k":2}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	if f.gotQuery != "red jacket" || f.gotK != 2 {
		t.Errorf("engine got query=%q k=%d", f.gotQuery, f.gotK)
	}
	var out models.SearchResponse[models.ImageHit]
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 2 || out.Results[0].RecordID != 7 || !out.Results[1].Missing {
		t.Errorf("unexpected response: %+v", out)
	}
}

func TestHandleSearchTextAlt(t *testing.T) {
	f := &fakeSearcher{records: []models.RecordHit{
		{RecordID: 3, Name: "Ann Roe", Document: json.RawMessage(`{"id":3}`), Distance: 0.05},
	}}
	srv := newTestServer(f)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/text-alt", strings.NewReader(`{"query":"scar on left arm"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Results []struct {
			RecordID int64           `json:"record_id"`
			Document json.RawMessage `json:"document"`
		} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || string(out.Results[0].Document) != `{"id":3}` {
		t.Errorf("unexpected results: %+v", out.Results)
	}
}

func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "query.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleSearchImage(t *testing.T) {
	f := &fakeSearcher{records: []models.RecordHit{{RecordID: 1, AssetID: 2, Name: "A B"}}}
	srv := newTestServer(f)

	body, ctype := multipartImage(t, "file", []byte("jpeg bytes"))
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/image?k=4", body)
	r.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	if string(f.gotImage) != "jpeg bytes" || f.gotK != 4 {
		t.Errorf("engine got image=%q k=%d", f.gotImage, f.gotK)
	}
}

func TestHandleSearchImage_BadRequests(t *testing.T) {
	srv := newTestServer(&fakeSearcher{})

	body, ctype := multipartImage(t, "upload", []byte("x"))
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/image", body)
	r.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("wrong field: got %d", w.Code)
	}

	body, ctype = multipartImage(t, "file", []byte("x"))
	r = httptest.NewRequest(http.MethodPost, "/api/v1/search/image?k=many", body)
	r.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad k: got %d", w.Code)
	}
}

func TestSearchErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: query cannot be empty", models.ErrInvalidArgument), http.StatusBadRequest},
		{&models.ProviderError{Provider: "clip", Err: errors.New("timed out")}, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: image index not loaded", models.ErrEmptyCollection), http.StatusServiceUnavailable},
		{&models.DimensionMismatchError{Expected: 512, Actual: 768}, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := newTestServer(&fakeSearcher{err: tt.err})
			r := httptest.NewRequest(http.MethodPost, "/api/v1/search/text", strings.NewReader(`{"query":"x"}`))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
			var out map[string]string
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestHandleSearchText_InvalidBody(t *testing.T) {
	srv := newTestServer(&fakeSearcher{})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/text", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(&fakeSearcher{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "casefind_http_requests_total") {
		t.Error("metrics output lacks casefind_http_requests_total")
	}
}
