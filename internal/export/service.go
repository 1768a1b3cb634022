package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marginalia/internal/annot"
)

// DataStore is what the exporter needs from the application layer. It returns
// the fully materialized view so ephemeral annotations are included or
// excluded by the caller's policy, not ours.
type DataStore interface {
	DocumentView(ctx context.Context, documentID string) (DocumentView, error)
}

// Service produces exports.
type Service struct {
	store DataStore
	now   func() time.Time
}

// NewService creates an export service.
func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Export generates the requested export.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	view, err := s.store.DocumentView(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document view: %w", err)
	}

	switch req.Format {
	case FormatJSON:
		return exportJSON(view)
	case FormatPDF:
		data := BuildTemplateData(view, req.SearchTerm, s.now())
		html, err := RenderDocumentHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render document html: %w", err)
		}
		return exportPDF(html, view.Title)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
}

// exportJSON serializes the document's annotations, replies nested.
func exportJSON(view DocumentView) (*Result, error) {
	annotations := view.Annotations
	if annotations == nil {
		annotations = []annot.Annotation{}
	}
	data, err := json.MarshalIndent(annotations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal annotations: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(view.Title) + "_annotations.json",
		MimeType: "application/json",
	}, nil
}
