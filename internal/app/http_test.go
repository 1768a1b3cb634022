package app

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	svc, st, _, _ := newTestService(t)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, st
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestDocumentAnnotationFlow(t *testing.T) {
	server, _ := newTestServer(t)

	// create
	resp := doJSON(t, http.MethodPost, server.URL+"/api/documents", map[string]string{
		"title":    "Field Notes",
		"content":  "The quick brown fox",
		"userName": "Ada",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var doc DocumentPayload
	decodeJSON(t, resp, &doc)
	if doc.ID == "" || doc.Content != "The quick brown fox" {
		t.Fatalf("doc = %+v", doc)
	}

	// publish annotation
	resp = doJSON(t, http.MethodPost, server.URL+"/api/documents/"+doc.ID+"/annotations", map[string]any{
		"userId": "u1", "userName": "Ada", "userColor": "#2563eb",
		"start": 4, "end": 9, "comment": "pace",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	var published struct {
		Inserted   bool `json:"inserted"`
		Annotation struct {
			ID string `json:"id"`
		} `json:"annotation"`
	}
	decodeJSON(t, resp, &published)
	if !published.Inserted || published.Annotation.ID == "" {
		t.Fatalf("publish response = %+v", published)
	}

	// duplicate is a 200 no-op
	resp = doJSON(t, http.MethodPost, server.URL+"/api/documents/"+doc.ID+"/annotations", map[string]any{
		"userId": "u1", "userName": "Ada", "userColor": "#2563eb",
		"start": 4, "end": 9, "comment": "pace again",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", resp.StatusCode)
	}
	var dup map[string]any
	decodeJSON(t, resp, &dup)
	if dup["inserted"] != false {
		t.Fatalf("duplicate response = %v", dup)
	}

	// polled list contains the annotation
	resp = doJSON(t, http.MethodGet, server.URL+"/api/documents/"+doc.ID+"/annotations", nil)
	var listed struct {
		Annotations []struct {
			ID      string `json:"id"`
			Comment string `json:"comment"`
		} `json:"annotations"`
	}
	decodeJSON(t, resp, &listed)
	if len(listed.Annotations) != 1 || listed.Annotations[0].ID != published.Annotation.ID {
		t.Fatalf("annotations = %+v", listed.Annotations)
	}

	// segments reflect the annotation and a search term
	resp = doJSON(t, http.MethodGet, server.URL+"/api/documents/"+doc.ID+"/segments?search=fox", nil)
	var segments SegmentsPayload
	decodeJSON(t, resp, &segments)
	if len(segments.Segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(segments.Segments))
	}
}

func TestSelectionEndpoint(t *testing.T) {
	server, st := newTestServer(t)
	seedDocument(t, st, "The quick brown fox")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_1/selection", map[string]any{
		"segmentIndex": 0, "offset": 4, "text": "quick",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rng struct {
		Start int    `json:"start"`
		End   int    `json:"end"`
		Text  string `json:"text"`
	}
	decodeJSON(t, resp, &rng)
	if rng.Start != 4 || rng.End != 9 || rng.Text != "quick" {
		t.Fatalf("range = %+v", rng)
	}

	// collapsed selection is rejected with 422
	resp = doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_1/selection", map[string]any{
		"segmentIndex": 0, "offset": 4, "text": "",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("collapsed selection status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("title", "Uploaded Notes")
	_ = writer.WriteField("userName", "Ada")
	part, err := writer.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("Uploaded body text")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = writer.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/documents/upload", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc DocumentPayload
	decodeJSON(t, resp, &doc)
	if doc.Title != "Uploaded Notes" || doc.Content != "Uploaded body text" {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestExportAnnotationsEndpoint(t *testing.T) {
	server, st := newTestServer(t)
	seedDocument(t, st, "The quick brown fox")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_1/export/annotations", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, "Field_Notes_annotations.json") {
		t.Errorf("disposition = %q", disposition)
	}
}

func TestSearchEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/search?q=fox&type=document&limit=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Results []any `json:"results"`
		Total   int   `json:"total"`
	}
	decodeJSON(t, resp, &body)
	if body.Results == nil {
		t.Error("results should be an array, not null")
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		OK     bool           `json:"ok"`
		Checks map[string]any `json:"checks"`
	}
	decodeJSON(t, resp, &body)
	if !body.OK {
		t.Errorf("ready = %+v", body)
	}
	redis, _ := body.Checks["redis"].(map[string]any)
	if redis["status"] != "disabled" {
		t.Errorf("redis check = %v", redis)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, st := newTestServer(t)
	seedDocument(t, st, "content")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_1/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		History []struct {
			Hash      string    `json:"hash"`
			Message   string    `json:"message"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"history"`
	}
	decodeJSON(t, resp, &body)
	if len(body.History) != 1 || body.History[0].Hash != "abc1234" {
		t.Fatalf("history = %+v", body.History)
	}
}
