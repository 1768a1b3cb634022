package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"marginalia/internal/annot"
	"marginalia/internal/presence"
	"marginalia/internal/revision"
	"marginalia/internal/search"
	"marginalia/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	documents   map[string]store.Document
	annotations map[string]store.Annotation

	getDocument func(ctx context.Context, id string) (store.Document, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents:   make(map[string]store.Document),
		annotations: make(map[string]store.Annotation),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0, len(f.documents))
	for _, d := range f.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocument != nil {
		return f.getDocument(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[d.ID] = d
	return nil
}

func (f *fakeStore) UpdateDocumentContent(_ context.Context, id, content, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.Content = content
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	_ = updatedBy
	f.documents[id] = d
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, id)
	for annID, a := range f.annotations {
		if a.DocumentID == id {
			delete(f.annotations, annID)
		}
	}
	return nil
}

func (f *fakeStore) ListAnnotations(_ context.Context, documentID string) ([]store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Annotation, 0)
	for _, a := range f.annotations {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAnnotation(_ context.Context, id string) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.annotations[id]
	if !ok {
		return store.Annotation{}, sql.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) InsertAnnotation(_ context.Context, a store.Annotation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.annotations {
		if existing.DocumentID == a.DocumentID && existing.UserID == a.UserID &&
			existing.RangeStart == a.RangeStart && existing.RangeEnd == a.RangeEnd {
			return false, nil
		}
	}
	f.annotations[a.ID] = a
	return true, nil
}

func (f *fakeStore) UpdateAnnotationComment(_ context.Context, id, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.annotations[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.Comment = comment
	f.annotations[id] = a
	return nil
}

func (f *fakeStore) InsertReply(_ context.Context, r store.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.annotations[r.AnnotationID]
	if !ok {
		return sql.ErrNoRows
	}
	a.Replies = append(a.Replies, r)
	f.annotations[r.AnnotationID] = a
	return nil
}

func (f *fakeStore) DeleteAnnotation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.annotations, id)
	return nil
}

func (f *fakeStore) SummaryCounts(context.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	replies := 0
	for _, a := range f.annotations {
		replies += len(a.Replies)
	}
	return len(f.documents), len(f.annotations), replies, nil
}

type fakeRevisions struct {
	mu      sync.Mutex
	ensured []string
	commits []string
}

func (f *fakeRevisions) EnsureDocumentRepo(documentID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, documentID)
	return nil
}

func (f *fakeRevisions) CommitContent(documentID, _, _, _ string) (revision.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, documentID)
	return revision.CommitInfo{Hash: "abc1234"}, nil
}

func (f *fakeRevisions) History(string, int) ([]revision.CommitInfo, error) {
	return []revision.CommitInfo{{Hash: "abc1234", Message: "Import document"}}, nil
}

func (f *fakeRevisions) GetContentByHash(string, string) (string, error) {
	return "", errors.New("not implemented")
}

type fakeSearch struct {
	mu              sync.Mutex
	indexedDocs     []string
	indexedAnns     []string
	deletedDocs     []string
	deletedAnns     []string
	searchResponses search.Response
}

func (f *fakeSearch) Search(search.Query) search.Response {
	if f.searchResponses.Results == nil {
		return search.Response{Results: []search.Result{}}
	}
	return f.searchResponses
}

func (f *fakeSearch) IndexDocument(d search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedDocs = append(f.indexedDocs, d.ID)
}

func (f *fakeSearch) IndexAnnotation(a search.AnnotationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedAnns = append(f.indexedAnns, a.ID)
}

func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedDocs = append(f.deletedDocs, id)
}

func (f *fakeSearch) DeleteAnnotation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAnns = append(f.deletedAnns, id)
}

type fakeAssist struct {
	text string
}

func (f *fakeAssist) Enabled() bool { return true }

func (f *fakeAssist) Generate(context.Context, string) string { return f.text }

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeRevisions, *fakeSearch) {
	t.Helper()
	st := newFakeStore()
	rev := &fakeRevisions{}
	idx := &fakeSearch{}
	svc := NewService(st, rev, idx, &fakeAssist{text: "generated summary"}, nil, time.Minute)
	return svc, st, rev, idx
}

func seedDocument(t *testing.T, st *fakeStore, content string) store.Document {
	t.Helper()
	doc := store.Document{
		ID:        "doc_1",
		Title:     "Field Notes",
		Content:   content,
		MimeType:  "text/plain",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	st.documents[doc.ID] = doc
	return doc
}

func TestCreateDocumentNormalizesAndWires(t *testing.T) {
	svc, st, rev, idx := newTestService(t)

	doc, err := svc.CreateDocument(context.Background(), CreateDocumentInput{
		Title:    "Notes",
		Content:  "line one\r\nline two\r\n",
		UserName: "Ada",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Content != "line one\nline two" {
		t.Errorf("content = %q, want normalized line endings", doc.Content)
	}

	stored, err := st.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if stored.Title != "Notes" {
		t.Errorf("stored title = %q", stored.Title)
	}
	if len(rev.ensured) != 1 || rev.ensured[0] != doc.ID {
		t.Errorf("revision repo not initialized: %v", rev.ensured)
	}
	if len(idx.indexedDocs) != 1 {
		t.Errorf("document not indexed: %v", idx.indexedDocs)
	}
}

func TestCreateDocumentRejectsEmptyContent(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreateDocument(context.Background(), CreateDocumentInput{
		Title:   "Empty",
		Content: "   \n\t  ",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NO_EXTRACTABLE_TEXT" {
		t.Fatalf("err = %v, want NO_EXTRACTABLE_TEXT", err)
	}
}

func TestPublishAnnotationDuplicateIsNoOp(t *testing.T) {
	svc, st, _, idx := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	input := PublishAnnotationInput{
		UserID: "u1", UserName: "Ada", UserColor: "#2563eb",
		Start: 4, End: 9, Comment: "pace",
	}

	_, inserted, err := svc.PublishAnnotation(context.Background(), "doc_1", input)
	if err != nil || !inserted {
		t.Fatalf("first publish: inserted=%v err=%v", inserted, err)
	}
	_, inserted, err = svc.PublishAnnotation(context.Background(), "doc_1", input)
	if err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}
	if inserted {
		t.Fatal("duplicate publish reported as inserted")
	}
	if len(idx.indexedAnns) != 1 {
		t.Errorf("indexed annotations = %d, want 1", len(idx.indexedAnns))
	}
}

func TestPublishAnnotationValidatesRange(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "short")

	cases := []PublishAnnotationInput{
		{UserID: "u1", Comment: "c", Start: -1, End: 3},
		{UserID: "u1", Comment: "c", Start: 0, End: 99},
		{UserID: "u1", Comment: "c", Start: 3, End: 3},
		{UserID: "u1", Comment: "c", Start: 4, End: 2},
	}
	for _, input := range cases {
		_, _, err := svc.PublishAnnotation(context.Background(), "doc_1", input)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Errorf("input %+v: err = %v, want validation error", input, err)
		}
	}
}

func TestAnnotationsMergeEphemeral(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	_, inserted, err := svc.PublishAnnotation(context.Background(), "doc_1", PublishAnnotationInput{
		UserID: "u1", UserName: "Ada", Start: 4, End: 9, Comment: "pace",
	})
	if err != nil || !inserted {
		t.Fatalf("publish: %v", err)
	}

	ephemeral, err := svc.Assist(context.Background(), "doc_1", AssistInput{})
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if !ephemeral.IsEphemeral {
		t.Fatal("assist annotation not flagged ephemeral")
	}
	if ephemeral.Comment != "generated summary" {
		t.Errorf("assist comment = %q", ephemeral.Comment)
	}

	annotations, err := svc.Annotations(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("Annotations: %v", err)
	}
	if len(annotations) != 2 {
		t.Fatalf("annotations = %d, want persisted + ephemeral", len(annotations))
	}
}

func TestAssistStaleDocumentDiscarded(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	doc := seedDocument(t, st, "The quick brown fox")

	// Every GetDocument returns a fresher revision than the last, so the
	// post-generation check always sees a changed document.
	calls := 0
	st.getDocument = func(context.Context, string) (store.Document, error) {
		calls++
		d := doc
		d.UpdatedAt = d.UpdatedAt.Add(time.Duration(calls) * time.Second)
		return d, nil
	}

	_, err := svc.Assist(context.Background(), "doc_1", AssistInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STALE_DOCUMENT" {
		t.Fatalf("err = %v, want STALE_DOCUMENT", err)
	}

	st.getDocument = nil
	annotations, err := svc.Annotations(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("Annotations: %v", err)
	}
	if len(annotations) != 0 {
		t.Fatalf("stale assist result was applied: %+v", annotations)
	}
}

func TestDeleteAnnotationRemovesEphemeral(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	ephemeral, err := svc.Assist(context.Background(), "doc_1", AssistInput{})
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}

	if err := svc.DeleteAnnotation(context.Background(), ephemeral.ID); err != nil {
		t.Fatalf("DeleteAnnotation: %v", err)
	}
	// idempotent
	if err := svc.DeleteAnnotation(context.Background(), ephemeral.ID); err != nil {
		t.Fatalf("second DeleteAnnotation: %v", err)
	}

	annotations, err := svc.Annotations(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("Annotations: %v", err)
	}
	if len(annotations) != 0 {
		t.Fatalf("ephemeral still present after delete: %+v", annotations)
	}
}

func TestSegmentsEndToEnd(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	published, inserted, err := svc.PublishAnnotation(context.Background(), "doc_1", PublishAnnotationInput{
		UserID: "u1", UserName: "Ada", UserColor: "#2563eb",
		Start: 4, End: 9, Comment: "pace",
	})
	if err != nil || !inserted {
		t.Fatalf("publish: %v", err)
	}

	payload, err := svc.Segments(context.Background(), "doc_1", "fox")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(payload.Segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(payload.Segments))
	}

	covered := payload.Segments[1]
	if covered.Start != 4 || covered.End != 9 {
		t.Fatalf("covered segment = [%d,%d)", covered.Start, covered.End)
	}
	if len(covered.CoveringIDs) != 1 || covered.CoveringIDs[0] != published.ID {
		t.Errorf("covering ids = %v", covered.CoveringIDs)
	}
	if covered.State.PrimaryID != published.ID || covered.State.Color != "#2563eb" {
		t.Errorf("render state = %+v", covered.State)
	}

	match := payload.Segments[3]
	if !match.IsSearchMatch || match.Text != "fox" {
		t.Errorf("search segment = %+v", match)
	}
}

func TestMapSelectionRoundTripAndRejection(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	rng, err := svc.MapSelection(context.Background(), "doc_1", "", annot.Selection{
		SegmentIndex: 0,
		Offset:       4,
		Text:         "quick",
	})
	if err != nil {
		t.Fatalf("MapSelection: %v", err)
	}
	if rng.Start != 4 || rng.End != 9 || rng.Text != "quick" {
		t.Fatalf("range = %+v", rng)
	}

	_, err = svc.MapSelection(context.Background(), "doc_1", "", annot.Selection{
		SegmentIndex: 0,
		Offset:       4,
		Text:         "stale text",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SELECTION_REJECTED" {
		t.Fatalf("err = %v, want SELECTION_REJECTED", err)
	}
}

func TestUpdateDocumentContentCommitsRevision(t *testing.T) {
	svc, st, rev, idx := newTestService(t)
	seedDocument(t, st, "old content")

	doc, err := svc.UpdateDocumentContent(context.Background(), "doc_1", "new content", "Ada")
	if err != nil {
		t.Fatalf("UpdateDocumentContent: %v", err)
	}
	if doc.Content != "new content" {
		t.Errorf("content = %q", doc.Content)
	}
	if len(rev.commits) != 1 || rev.commits[0] != "doc_1" {
		t.Errorf("revision commits = %v", rev.commits)
	}
	if len(idx.indexedDocs) != 1 {
		t.Errorf("document not reindexed: %v", idx.indexedDocs)
	}
}

func TestDeleteDocumentCleansUp(t *testing.T) {
	svc, st, _, idx := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	published, _, err := svc.PublishAnnotation(context.Background(), "doc_1", PublishAnnotationInput{
		UserID: "u1", Start: 4, End: 9, Comment: "pace",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := svc.DeleteDocument(context.Background(), "doc_1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(idx.deletedDocs) != 1 || idx.deletedDocs[0] != "doc_1" {
		t.Errorf("search doc not deleted: %v", idx.deletedDocs)
	}
	if len(idx.deletedAnns) != 1 || idx.deletedAnns[0] != published.ID {
		t.Errorf("search annotation not deleted: %v", idx.deletedAnns)
	}
}

func TestPresenceDisabledDegrades(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "content here")

	if err := svc.Heartbeat(context.Background(), "doc_1", presence.Member{UserID: "u1"}); err != nil {
		t.Fatalf("Heartbeat without redis: %v", err)
	}
	members, err := svc.Presence(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("Presence without redis: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("members = %v, want empty", members)
	}
}

func TestAddReplyAggregates(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedDocument(t, st, "The quick brown fox")

	published, _, err := svc.PublishAnnotation(context.Background(), "doc_1", PublishAnnotationInput{
		UserID: "u1", UserName: "Ada", Start: 4, End: 9, Comment: "pace",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	updated, err := svc.AddReply(context.Background(), published.ID, ReplyInput{
		UserID: "u2", UserName: "Grace", Comment: "agreed",
	})
	if err != nil {
		t.Fatalf("AddReply: %v", err)
	}
	if len(updated.Replies) != 1 || updated.Replies[0].UserName != "Grace" {
		t.Fatalf("replies = %+v", updated.Replies)
	}

	payload, err := svc.Segments(context.Background(), "doc_1", "")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	var found bool
	for _, seg := range payload.Segments {
		if seg.State.PrimaryID == published.ID && seg.State.ReplyCount == 1 {
			found = true
		}
	}
	if !found {
		t.Error("reply count not reflected in render state")
	}
}
