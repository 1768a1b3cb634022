package export

import (
	"bytes"
	"html/template"
	"time"

	"marginalia/internal/annot"
)

// TemplateData holds data for rendering the annotated document as HTML.
type TemplateData struct {
	Title       string
	GeneratedAt time.Time
	Segments    []TemplateSegment
	Notes       []TemplateNote
}

// TemplateSegment is one rendered slice of the document text.
type TemplateSegment struct {
	Text          string
	Highlighted   bool
	Color         string
	IsSearchMatch bool
	NoteNumber    int // 1-based index into Notes, 0 when unannotated
}

// TemplateNote is one annotation listed below the document body.
type TemplateNote struct {
	Number    int
	Author    string
	Quote     string
	Comment   string
	CreatedAt time.Time
	Replies   []TemplateReply
}

// TemplateReply is one reply under a note.
type TemplateReply struct {
	Author  string
	Comment string
}

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(documentTemplateHTML))

// RenderDocumentHTML renders the annotated document for PDF conversion.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildTemplateData runs the annotation engine over the document and shapes
// the output for the template.
func BuildTemplateData(view DocumentView, searchTerm string, now time.Time) TemplateData {
	segments := annot.BuildSegments(view.Content, view.Annotations, searchTerm)

	byID := make(map[string]annot.Annotation, len(view.Annotations))
	for _, a := range view.Annotations {
		byID[a.ID] = a
	}

	noteNumber := make(map[string]int, len(view.Annotations))
	notes := make([]TemplateNote, 0, len(view.Annotations))
	for _, a := range view.Annotations {
		n := TemplateNote{
			Number:    len(notes) + 1,
			Author:    a.UserName,
			Quote:     a.Range.Text,
			Comment:   a.Comment,
			CreatedAt: time.UnixMilli(a.Timestamp),
		}
		for _, r := range a.Replies {
			n.Replies = append(n.Replies, TemplateReply{Author: r.UserName, Comment: r.Comment})
		}
		noteNumber[a.ID] = n.Number
		notes = append(notes, n)
	}

	out := TemplateData{
		Title:       view.Title,
		GeneratedAt: now,
		Notes:       notes,
	}
	for _, seg := range segments {
		state := annot.Reduce(seg, byID)
		ts := TemplateSegment{
			Text:          seg.Text,
			IsSearchMatch: state.IsSearchMatch,
		}
		if state.PrimaryID != "" {
			ts.Highlighted = true
			ts.Color = state.Color
			ts.NoteNumber = noteNumber[state.PrimaryID]
		}
		out.Segments = append(out.Segments, ts)
	}
	return out
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, 'Times New Roman', serif; max-width: 7in; margin: 0 auto; color: #1f2937; }
    h1 { font-size: 22pt; border-bottom: 2px solid #e5e7eb; padding-bottom: 8px; }
    .meta { color: #6b7280; font-size: 9pt; margin-bottom: 24px; }
    .content { white-space: pre-wrap; line-height: 1.6; font-size: 11pt; }
    .search-match { outline: 1px solid #f59e0b; background-color: #fef3c7; }
    sup { font-size: 7pt; color: #6b7280; }
    .notes { margin-top: 32px; border-top: 2px solid #e5e7eb; padding-top: 16px; }
    .note { margin-bottom: 16px; font-size: 10pt; }
    .note blockquote { margin: 4px 0; padding-left: 8px; border-left: 3px solid #d1d5db; color: #6b7280; font-style: italic; }
    .reply { margin-left: 16px; color: #4b5563; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Exported {{formatDate .GeneratedAt "January 2, 2006 15:04"}}</div>
  <div class="content">{{range .Segments}}{{if .Highlighted}}<span style="background-color: {{.Color}}33; border-bottom: 2px solid {{.Color}};{{if .IsSearchMatch}} outline: 1px solid #f59e0b;{{end}}">{{.Text}}</span><sup>[{{.NoteNumber}}]</sup>{{else if .IsSearchMatch}}<span class="search-match">{{.Text}}</span>{{else}}{{.Text}}{{end}}{{end}}</div>
  {{if .Notes}}
  <div class="notes">
    <h2>Annotations</h2>
    {{range .Notes}}
    <div class="note">
      <strong>[{{.Number}}] {{.Author}}</strong> &middot; {{formatDate .CreatedAt "Jan 2, 2006"}}
      <blockquote>{{.Quote}}</blockquote>
      <div>{{.Comment}}</div>
      {{range .Replies}}<div class="reply">&rarr; <strong>{{.Author}}</strong>: {{.Comment}}</div>{{end}}
    </div>
    {{end}}
  </div>
  {{end}}
</body>
</html>`
