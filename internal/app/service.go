package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"marginalia/internal/annot"
	"marginalia/internal/assist"
	"marginalia/internal/export"
	"marginalia/internal/ingest"
	"marginalia/internal/presence"
	"marginalia/internal/revision"
	"marginalia/internal/search"
	"marginalia/internal/store"
	"marginalia/internal/util"
)

const assistUserName = "Assistant"

type dataStore interface {
	Ping(context.Context) error
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentContent(ctx context.Context, documentID, content, updatedBy string) error
	DeleteDocument(context.Context, string) error
	ListAnnotations(context.Context, string) ([]store.Annotation, error)
	GetAnnotation(context.Context, string) (store.Annotation, error)
	InsertAnnotation(context.Context, store.Annotation) (bool, error)
	UpdateAnnotationComment(ctx context.Context, annotationID, comment string) error
	InsertReply(context.Context, store.Reply) error
	DeleteAnnotation(context.Context, string) error
	SummaryCounts(context.Context) (documents, annotations, replies int, err error)
}

type presenceStore interface {
	Heartbeat(ctx context.Context, documentID string, member presence.Member) error
	ListActive(ctx context.Context, documentID string) ([]presence.Member, error)
	Leave(ctx context.Context, documentID, userID string) error
	Ping(context.Context) error
}

type revisionStore interface {
	EnsureDocumentRepo(documentID, content, author string) error
	CommitContent(documentID, content, author, message string) (revision.CommitInfo, error)
	History(documentID string, limit int) ([]revision.CommitInfo, error)
	GetContentByHash(documentID, hash string) (string, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	IndexAnnotation(search.AnnotationRecord)
	DeleteDocument(id string)
	DeleteAnnotation(id string)
}

type assistClient interface {
	Enabled() bool
	Generate(ctx context.Context, prompt string) string
}

type blobStore interface {
	Enabled() bool
	PutUpload(ctx context.Context, documentID, filename, contentType string, data []byte) error
	DeleteUploads(ctx context.Context, documentID string) error
}

// Service holds the application operations behind the HTTP layer. Persisted
// annotations live in the store; ephemeral ones live only in per-document
// active sets and evaporate on restart, which is the intended lifetime.
type Service struct {
	store     dataStore
	revisions revisionStore
	search    searchIndex
	presence  presenceStore
	assist    assistClient
	blobs     blobStore

	ephemeralTTL time.Duration

	mu     sync.Mutex
	active map[string]*annot.ActiveSet
}

func NewService(
	st dataStore,
	revisions revisionStore,
	searcher searchIndex,
	assistSvc assistClient,
	blobs blobStore,
	ephemeralTTL time.Duration,
) *Service {
	if ephemeralTTL <= 0 {
		ephemeralTTL = annot.DefaultEphemeralTTL
	}
	return &Service{
		store:        st,
		revisions:    revisions,
		search:       searcher,
		assist:       assistSvc,
		blobs:        blobs,
		ephemeralTTL: ephemeralTTL,
		active:       make(map[string]*annot.ActiveSet),
	}
}

// NewServiceWithPresence wires in a presence backend; without one the
// presence endpoints degrade to empty results.
func NewServiceWithPresence(
	st dataStore,
	revisions revisionStore,
	searcher searchIndex,
	pres presenceStore,
	assistSvc assistClient,
	blobs blobStore,
	ephemeralTTL time.Duration,
) *Service {
	s := NewService(st, revisions, searcher, assistSvc, blobs, ephemeralTTL)
	s.presence = pres
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PresenceEnabled reports whether a presence backend is wired in.
func (s *Service) PresenceEnabled() bool {
	return s.presence != nil
}

func (s *Service) PresencePing(ctx context.Context) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Ping(ctx)
}

// Summary returns store-wide counts for the health endpoint.
func (s *Service) Summary(ctx context.Context) (map[string]int, error) {
	documents, annotations, replies, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"documents":   documents,
		"annotations": annotations,
		"replies":     replies,
	}, nil
}

// DocumentSummary is document metadata without the content body.
type DocumentSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	MimeType   string    `json:"mimeType"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DocumentPayload is the full document returned by the single-document read.
type DocumentPayload struct {
	DocumentSummary
	Content string `json:"content"`
}

func (s *Service) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSummary(d))
	}
	return out, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentPayload, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentPayload{}, err
	}
	return toPayload(doc), nil
}

// CreateDocumentInput covers the paste-text path.
type CreateDocumentInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	UserName string `json:"userName"`
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (DocumentPayload, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return DocumentPayload{}, validationError("title is required")
	}

	content, err := ingest.Extract([]byte(input.Content), "text/plain")
	if err != nil {
		return DocumentPayload{}, ingestError(err)
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:         util.NewID("doc"),
		Title:      title,
		Content:    content,
		MimeType:   "text/plain",
		UploadedBy: strings.TrimSpace(input.UserName),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentPayload{}, fmt.Errorf("insert document: %w", err)
	}
	if err := s.revisions.EnsureDocumentRepo(doc.ID, doc.Content, displayAuthor(doc.UploadedBy)); err != nil {
		log.Printf("app: init revision repo for %s: %v", doc.ID, err)
	}
	s.search.IndexDocument(searchRecord(doc))
	return toPayload(doc), nil
}

// UploadDocumentInput covers the file-upload path. Data is the raw upload.
type UploadDocumentInput struct {
	Title    string
	Filename string
	MimeType string
	Data     []byte
	UserName string
}

func (s *Service) UploadDocument(ctx context.Context, input UploadDocumentInput) (DocumentPayload, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSpace(strings.TrimSuffix(input.Filename, fileExt(input.Filename)))
	}
	if title == "" {
		return DocumentPayload{}, validationError("title is required")
	}

	// Browsers often send octet-stream for text files; fall back to the
	// filename extension before giving up.
	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(fileExt(input.Filename)); byExt != "" {
			mimeType = byExt
		}
	}

	content, err := ingest.Extract(input.Data, mimeType)
	if err != nil {
		return DocumentPayload{}, ingestError(err)
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:         util.NewID("doc"),
		Title:      title,
		Content:    content,
		MimeType:   mimeType,
		UploadedBy: strings.TrimSpace(input.UserName),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Archive the original bytes first; the document itself never depends
	// on the archive succeeding.
	if s.blobs != nil && s.blobs.Enabled() {
		if err := s.blobs.PutUpload(ctx, doc.ID, input.Filename, input.MimeType, input.Data); err != nil {
			log.Printf("app: archive upload for %s: %v", doc.ID, err)
		}
	}

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentPayload{}, fmt.Errorf("insert document: %w", err)
	}
	if err := s.revisions.EnsureDocumentRepo(doc.ID, doc.Content, displayAuthor(doc.UploadedBy)); err != nil {
		log.Printf("app: init revision repo for %s: %v", doc.ID, err)
	}
	s.search.IndexDocument(searchRecord(doc))
	return toPayload(doc), nil
}

// UpdateDocumentContent replaces the document text, last write wins. Existing
// annotation ranges are left untouched; the segment builder clamps any that
// no longer fit.
func (s *Service) UpdateDocumentContent(ctx context.Context, documentID, content, userName string) (DocumentPayload, error) {
	normalized, err := ingest.Extract([]byte(content), "text/plain")
	if err != nil {
		return DocumentPayload{}, ingestError(err)
	}

	if err := s.store.UpdateDocumentContent(ctx, documentID, normalized, strings.TrimSpace(userName)); err != nil {
		return DocumentPayload{}, err
	}

	if _, err := s.revisions.CommitContent(documentID, normalized, displayAuthor(userName), "Update content"); err != nil {
		log.Printf("app: commit revision for %s: %v", documentID, err)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentPayload{}, err
	}
	s.search.IndexDocument(searchRecord(doc))
	return toPayload(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	annotations, err := s.store.ListAnnotations(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	s.search.DeleteDocument(documentID)
	for _, a := range annotations {
		s.search.DeleteAnnotation(a.ID)
	}
	if s.blobs != nil && s.blobs.Enabled() {
		if err := s.blobs.DeleteUploads(ctx, documentID); err != nil {
			log.Printf("app: delete upload archive for %s: %v", documentID, err)
		}
	}

	s.mu.Lock()
	delete(s.active, documentID)
	s.mu.Unlock()
	return nil
}

// Annotations returns the fully materialized annotation list: persisted rows
// plus the live ephemeral set, ordered by timestamp. This is the payload the
// polling clients re-fetch.
func (s *Service) Annotations(ctx context.Context, documentID string) ([]annot.Annotation, error) {
	rows, err := s.store.ListAnnotations(ctx, documentID)
	if err != nil {
		return nil, err
	}

	out := make([]annot.Annotation, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAnnotValue(row))
	}
	out = append(out, s.activeSet(documentID).Snapshot()...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PublishAnnotationInput is a user publishing a selection as an annotation.
type PublishAnnotationInput struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Comment   string `json:"comment"`
}

// PublishAnnotation persists a new annotation. The bool result reports
// whether a row was actually inserted; a duplicate submission for the same
// (user, range) tuple is a no-op.
func (s *Service) PublishAnnotation(ctx context.Context, documentID string, input PublishAnnotationInput) (annot.Annotation, bool, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return annot.Annotation{}, false, validationError("userId is required")
	}
	if strings.TrimSpace(input.Comment) == "" {
		return annot.Annotation{}, false, validationError("comment is required")
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return annot.Annotation{}, false, err
	}
	if input.Start < 0 || input.End > len(doc.Content) || input.Start >= input.End {
		return annot.Annotation{}, false, validationError("range is outside the document")
	}

	row := store.Annotation{
		ID:         util.NewID("ann"),
		DocumentID: documentID,
		UserID:     input.UserID,
		UserName:   input.UserName,
		UserColor:  input.UserColor,
		RangeStart: input.Start,
		RangeEnd:   input.End,
		RangeText:  doc.Content[input.Start:input.End],
		Comment:    input.Comment,
		CreatedAt:  time.Now().UTC(),
	}

	inserted, err := s.store.InsertAnnotation(ctx, row)
	if err != nil {
		return annot.Annotation{}, false, fmt.Errorf("insert annotation: %w", err)
	}
	if !inserted {
		return annot.Annotation{}, false, nil
	}

	s.search.IndexAnnotation(annotationRecord(row))
	return toAnnotValue(row), true, nil
}

func (s *Service) UpdateAnnotationComment(ctx context.Context, annotationID, comment string) (annot.Annotation, error) {
	if strings.TrimSpace(comment) == "" {
		return annot.Annotation{}, validationError("comment is required")
	}
	if err := s.store.UpdateAnnotationComment(ctx, annotationID, comment); err != nil {
		return annot.Annotation{}, err
	}
	row, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return annot.Annotation{}, err
	}
	s.search.IndexAnnotation(annotationRecord(row))
	return toAnnotValue(row), nil
}

// ReplyInput is one reply appended to an annotation's thread.
type ReplyInput struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
	Comment   string `json:"comment"`
}

func (s *Service) AddReply(ctx context.Context, annotationID string, input ReplyInput) (annot.Annotation, error) {
	if strings.TrimSpace(input.Comment) == "" {
		return annot.Annotation{}, validationError("comment is required")
	}
	if _, err := s.store.GetAnnotation(ctx, annotationID); err != nil {
		return annot.Annotation{}, err
	}

	reply := store.Reply{
		ID:           util.NewID("rep"),
		AnnotationID: annotationID,
		UserID:       input.UserID,
		UserName:     input.UserName,
		UserColor:    input.UserColor,
		Comment:      input.Comment,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return annot.Annotation{}, fmt.Errorf("insert reply: %w", err)
	}

	row, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return annot.Annotation{}, err
	}
	s.search.IndexAnnotation(annotationRecord(row))
	return toAnnotValue(row), nil
}

// DeleteAnnotation removes an annotation from storage and from every active
// set. Deleting an id that only ever lived as an ephemeral annotation, or
// one already gone, is a no-op.
func (s *Service) DeleteAnnotation(ctx context.Context, annotationID string) error {
	if err := s.store.DeleteAnnotation(ctx, annotationID); err != nil {
		return err
	}
	s.search.DeleteAnnotation(annotationID)

	s.mu.Lock()
	for _, set := range s.active {
		set.Remove(annotationID)
	}
	s.mu.Unlock()
	return nil
}

// SegmentView pairs a segment with its derived render state.
type SegmentView struct {
	annot.Segment
	State annot.RenderState `json:"state"`
}

// SegmentsPayload is the rendered view of a document.
type SegmentsPayload struct {
	DocumentID string        `json:"documentId"`
	SearchTerm string        `json:"searchTerm,omitempty"`
	Segments   []SegmentView `json:"segments"`
}

// Segments runs the annotation engine over the current document state.
func (s *Service) Segments(ctx context.Context, documentID, searchTerm string) (SegmentsPayload, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return SegmentsPayload{}, err
	}
	annotations, err := s.Annotations(ctx, documentID)
	if err != nil {
		return SegmentsPayload{}, err
	}

	byID := make(map[string]annot.Annotation, len(annotations))
	for _, a := range annotations {
		byID[a.ID] = a
	}

	segments := annot.BuildSegments(doc.Content, annotations, searchTerm)
	views := make([]SegmentView, 0, len(segments))
	for _, seg := range segments {
		views = append(views, SegmentView{Segment: seg, State: annot.Reduce(seg, byID)})
	}
	return SegmentsPayload{DocumentID: documentID, SearchTerm: searchTerm, Segments: views}, nil
}

// MapSelection resolves a selection reported against the rendered segment
// list into an absolute range. searchTerm must match the view the client was
// rendering, since search matches introduce segment boundaries.
func (s *Service) MapSelection(ctx context.Context, documentID, searchTerm string, sel annot.Selection) (annot.TextRange, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return annot.TextRange{}, err
	}
	annotations, err := s.Annotations(ctx, documentID)
	if err != nil {
		return annot.TextRange{}, err
	}

	segments := annot.BuildSegments(doc.Content, annotations, searchTerm)
	r, ok := annot.MapSelection(doc.Content, segments, sel)
	if !ok {
		return annot.TextRange{}, domainError(http.StatusUnprocessableEntity, "SELECTION_REJECTED", "Selection could not be mapped to a range", nil)
	}
	return r, nil
}

// AssistInput optionally narrows the AI annotation to a span; by default the
// whole document is annotated.
type AssistInput struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

// Assist asks the generation service for a summary and attaches it as an
// ephemeral annotation. If the document changes while the generator is
// running the result is discarded.
func (s *Service) Assist(ctx context.Context, documentID string, input AssistInput) (annot.Annotation, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return annot.Annotation{}, err
	}
	if len(doc.Content) == 0 {
		return annot.Annotation{}, validationError("document has no content")
	}

	start, end := 0, len(doc.Content)
	if input.Start != nil {
		start = *input.Start
	}
	if input.End != nil {
		end = *input.End
	}
	if start < 0 || end > len(doc.Content) || start >= end {
		return annot.Annotation{}, validationError("range is outside the document")
	}

	text := s.assist.Generate(ctx, assist.SummaryPrompt(doc.Title, doc.Content))

	// The generator call can take seconds; apply the result only if the
	// document is still the one we captured.
	current, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return annot.Annotation{}, err
	}
	if !current.UpdatedAt.Equal(doc.UpdatedAt) || current.Content != doc.Content {
		return annot.Annotation{}, domainError(http.StatusConflict, "STALE_DOCUMENT", "Document changed while generating", nil)
	}

	a := annot.Annotation{
		ID:         util.NewID("ann"),
		DocumentID: documentID,
		UserID:     "assistant",
		UserName:   assistUserName,
		UserColor:  annot.EphemeralColor,
		Range: annot.TextRange{
			Start: start,
			End:   end,
			Text:  doc.Content[start:end],
		},
		Comment:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	s.activeSet(documentID).AddEphemeral(a)
	a.IsEphemeral = true
	return a, nil
}

func (s *Service) Heartbeat(ctx context.Context, documentID string, member presence.Member) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Heartbeat(ctx, documentID, member)
}

func (s *Service) Presence(ctx context.Context, documentID string) ([]presence.Member, error) {
	if s.presence == nil {
		return []presence.Member{}, nil
	}
	members, err := s.presence.ListActive(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []presence.Member{}
	}
	return members, nil
}

func (s *Service) LeavePresence(ctx context.Context, documentID, userID string) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Leave(ctx, documentID, userID)
}

// History lists the document's content revisions, newest first.
func (s *Service) History(ctx context.Context, documentID string, limit int) ([]revision.CommitInfo, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	history, err := s.revisions.History(documentID, limit)
	if err != nil {
		log.Printf("app: history for %s: %v", documentID, err)
		return []revision.CommitInfo{}, nil
	}
	return history, nil
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// DocumentView supplies the exporter with the fully materialized view,
// ephemeral annotations included, matching what a viewer sees on screen.
func (s *Service) DocumentView(ctx context.Context, documentID string) (export.DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return export.DocumentView{}, err
	}
	annotations, err := s.Annotations(ctx, documentID)
	if err != nil {
		return export.DocumentView{}, err
	}
	return export.DocumentView{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     doc.Content,
		Annotations: annotations,
	}, nil
}

func (s *Service) activeSet(documentID string) *annot.ActiveSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.active[documentID]
	if !ok {
		set = annot.NewActiveSet(s.ephemeralTTL)
		s.active[documentID] = set
	}
	return set
}

func toSummary(d store.Document) DocumentSummary {
	return DocumentSummary{
		ID:         d.ID,
		Title:      d.Title,
		MimeType:   d.MimeType,
		UploadedBy: d.UploadedBy,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toPayload(d store.Document) DocumentPayload {
	return DocumentPayload{DocumentSummary: toSummary(d), Content: d.Content}
}

func toAnnotValue(row store.Annotation) annot.Annotation {
	a := annot.Annotation{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		UserID:     row.UserID,
		UserName:   row.UserName,
		UserColor:  row.UserColor,
		Range: annot.TextRange{
			Start: row.RangeStart,
			End:   row.RangeEnd,
			Text:  row.RangeText,
		},
		Comment:   row.Comment,
		Timestamp: row.CreatedAt.UnixMilli(),
	}
	for _, r := range row.Replies {
		a.Replies = append(a.Replies, annot.Reply{
			ID:        r.ID,
			UserID:    r.UserID,
			UserName:  r.UserName,
			UserColor: r.UserColor,
			Comment:   r.Comment,
			Timestamp: r.CreatedAt.UnixMilli(),
		})
	}
	return a
}

func searchRecord(d store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:      d.ID,
		Title:   d.Title,
		Excerpt: excerpt(d.Content, 500),
	}
}

func annotationRecord(row store.Annotation) search.AnnotationRecord {
	return search.AnnotationRecord{
		ID:         row.ID,
		Comment:    row.Comment,
		RangeText:  row.RangeText,
		UserName:   row.UserName,
		DocumentID: row.DocumentID,
	}
}

func excerpt(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max]
}

func displayAuthor(userName string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		return "anonymous"
	}
	return name
}

func fileExt(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}

func ingestError(err error) error {
	if errors.Is(err, ingest.ErrNoText) {
		return domainError(http.StatusUnprocessableEntity, "NO_EXTRACTABLE_TEXT", err.Error(), nil)
	}
	return err
}
