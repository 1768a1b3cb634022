// Package search provides cross-document full-text search over documents and
// annotations. In-document term highlighting is the annotation engine's job;
// this package answers "where else does this appear".
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument   ResultType = "document"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID         string `json:"id"`
	Comment    string `json:"comment"`
	RangeText  string `json:"rangeText"`
	UserName   string `json:"userName"`
	DocumentID string `json:"documentId"`
}
