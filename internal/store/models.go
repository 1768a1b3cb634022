package store

import "time"

type Document struct {
	ID         string
	Title      string
	Content    string
	MimeType   string
	UploadedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Annotation struct {
	ID         string
	DocumentID string
	UserID     string
	UserName   string
	UserColor  string
	RangeStart int
	RangeEnd   int
	RangeText  string
	Comment    string
	CreatedAt  time.Time
	Replies    []Reply
}

type Reply struct {
	ID           string
	AnnotationID string
	UserID       string
	UserName     string
	UserColor    string
	Comment      string
	CreatedAt    time.Time
}
