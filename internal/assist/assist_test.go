package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if !strings.Contains(req.Prompt, "Summarize") {
			t.Errorf("prompt not forwarded: %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "A fine summary."})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	got := client.Generate(context.Background(), SummaryPrompt("Doc", "body text"))
	if got != "A fine summary." {
		t.Errorf("Generate = %q, want the service text", got)
	}
}

func TestGenerateServerErrorFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if got := client.Generate(context.Background(), "prompt"); got != Fallback {
		t.Errorf("Generate = %q, want fallback", got)
	}
}

func TestGenerateBadPayloadFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if got := client.Generate(context.Background(), "prompt"); got != Fallback {
		t.Errorf("Generate = %q, want fallback", got)
	}
}

func TestGenerateEmptyTextFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "   "})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if got := client.Generate(context.Background(), "prompt"); got != Fallback {
		t.Errorf("Generate = %q, want fallback", got)
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	client := NewClient("")
	if client.Enabled() {
		t.Error("empty base URL should disable the client")
	}
	if got := client.Generate(context.Background(), "prompt"); got != Fallback {
		t.Errorf("Generate = %q, want fallback", got)
	}
}

func TestGenerateUnreachableHostFallsBack(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if got := client.Generate(context.Background(), "prompt"); got != Fallback {
		t.Errorf("Generate = %q, want fallback", got)
	}
}
