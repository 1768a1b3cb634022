package revision

import (
	"strings"
	"testing"
)

func TestEnsureDocumentRepoIdempotent(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureDocumentRepo("doc_1", "first draft", "Ada"); err != nil {
		t.Fatalf("EnsureDocumentRepo: %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc_1", "ignored", "Ada"); err != nil {
		t.Fatalf("second EnsureDocumentRepo: %v", err)
	}

	content, _, err := svc.GetHeadContent("doc_1")
	if err != nil {
		t.Fatalf("GetHeadContent: %v", err)
	}
	if content != "first draft" {
		t.Fatalf("content = %q, want initial revision", content)
	}
}

func TestCommitAndReadBack(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc_1", "v1", "Ada"); err != nil {
		t.Fatalf("EnsureDocumentRepo: %v", err)
	}

	info, err := svc.CommitContent("doc_1", "v2", "Grace", "Update content")
	if err != nil {
		t.Fatalf("CommitContent: %v", err)
	}
	if info.Author != "Grace" {
		t.Errorf("author = %q, want Grace", info.Author)
	}
	if len(info.Hash) != 7 {
		t.Errorf("hash = %q, want short hash", info.Hash)
	}

	content, head, err := svc.GetHeadContent("doc_1")
	if err != nil {
		t.Fatalf("GetHeadContent: %v", err)
	}
	if content != "v2" {
		t.Errorf("head content = %q, want v2", content)
	}
	if head.Hash != info.Hash {
		t.Errorf("head hash = %q, want %q", head.Hash, info.Hash)
	}
}

func TestGetContentByHash(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc_1", "v1", "Ada"); err != nil {
		t.Fatalf("EnsureDocumentRepo: %v", err)
	}
	if _, err := svc.CommitContent("doc_1", "v2", "Ada", "Update"); err != nil {
		t.Fatalf("CommitContent: %v", err)
	}

	history, err := svc.History("doc_1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}

	oldest := history[len(history)-1]
	content, err := svc.GetContentByHash("doc_1", oldest.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash: %v", err)
	}
	if content != "v1" {
		t.Errorf("content at %s = %q, want v1", oldest.Hash, content)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc_1", "v1", "Ada"); err != nil {
		t.Fatalf("EnsureDocumentRepo: %v", err)
	}
	for _, v := range []string{"v2", "v3", "v4"} {
		if _, err := svc.CommitContent("doc_1", v, "Ada", "Revise to "+v); err != nil {
			t.Fatalf("CommitContent %s: %v", v, err)
		}
	}

	history, err := svc.History("doc_1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if !strings.Contains(history[0].Message, "v4") {
		t.Errorf("newest message = %q, want the v4 commit first", history[0].Message)
	}
}

func TestOpenMissingRepo(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.GetHeadContent("missing"); err == nil {
		t.Fatal("expected error for missing repo")
	}
	if _, err := svc.History("missing", 0); err == nil {
		t.Fatal("expected error for missing repo history")
	}
}
