// Package export produces downloadable exports of a document and its
// annotations, either as a JSON dump or as a PDF of the rendered view.
package export

import (
	"errors"

	"marginalia/internal/annot"
)

// Format is the export output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ErrPDFDependencyMissing is returned when no headless Chromium binary is
// available for PDF rendering.
var ErrPDFDependencyMissing = errors.New("pdf rendering unavailable")

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Request describes one export operation.
type Request struct {
	DocumentID string
	Format     Format
	SearchTerm string // optional, highlights matches in the PDF view
}

// Result is the produced file.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentView is everything the exporter needs about a document.
type DocumentView struct {
	ID          string
	Title       string
	Content     string
	Annotations []annot.Annotation
}
