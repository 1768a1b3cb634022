package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, mime_type, uploaded_by, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.MimeType, &doc.UploadedBy, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, mime_type, uploaded_by, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.MimeType, &doc.UploadedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, mime_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
	`, doc.ID, doc.Title, doc.Content, doc.MimeType, doc.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocumentContent overwrites the document text. Last write wins; there
// is no version check here. Revision history lives in the revision service.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, content, updatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content = $2, uploaded_by = $3, updated_at = NOW()
		WHERE id = $1
	`, documentID, content, updatedBy)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, documentID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, user_name, user_color,
			range_start, range_end, range_text, comment, created_at
		FROM annotations
		WHERE document_id = $1
		ORDER BY created_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	index := make(map[string]int)
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.UserID, &a.UserName, &a.UserColor,
			&a.RangeStart, &a.RangeEnd, &a.RangeText, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.Replies = make([]Reply, 0)
		index[a.ID] = len(items)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	replyRows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.annotation_id, r.user_id, r.user_name, r.user_color, r.comment, r.created_at
		FROM replies r
		JOIN annotations a ON a.id = r.annotation_id
		WHERE a.document_id = $1
		ORDER BY r.created_at ASC, r.id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer replyRows.Close()

	for replyRows.Next() {
		var r Reply
		if err := replyRows.Scan(&r.ID, &r.AnnotationID, &r.UserID, &r.UserName, &r.UserColor, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		if i, ok := index[r.AnnotationID]; ok {
			items[i].Replies = append(items[i].Replies, r)
		}
	}
	return items, replyRows.Err()
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	var a Annotation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, user_name, user_color,
			range_start, range_end, range_text, comment, created_at
		FROM annotations
		WHERE id = $1
	`, annotationID).Scan(&a.ID, &a.DocumentID, &a.UserID, &a.UserName, &a.UserColor,
		&a.RangeStart, &a.RangeEnd, &a.RangeText, &a.Comment, &a.CreatedAt)
	if err != nil {
		return Annotation{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, annotation_id, user_id, user_name, user_color, comment, created_at
		FROM replies
		WHERE annotation_id = $1
		ORDER BY created_at ASC, id ASC
	`, annotationID)
	if err != nil {
		return Annotation{}, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	a.Replies = make([]Reply, 0)
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.AnnotationID, &r.UserID, &r.UserName, &r.UserColor, &r.Comment, &r.CreatedAt); err != nil {
			return Annotation{}, fmt.Errorf("scan reply: %w", err)
		}
		a.Replies = append(a.Replies, r)
	}
	return a, rows.Err()
}

// InsertAnnotation persists an annotation unless the same user already holds
// one with the exact same range on the document. The guard compares
// (document_id, user_id, range_start, range_end) equality only; two
// near-identical but not-exactly-equal ranges from the same user both
// persist. Reports whether a row was actually inserted.
func (s *PostgresStore) InsertAnnotation(ctx context.Context, a Annotation) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, document_id, user_id, user_name, user_color,
			range_start, range_end, range_text, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (document_id, user_id, range_start, range_end) DO NOTHING
	`, a.ID, a.DocumentID, a.UserID, a.UserName, a.UserColor,
		a.RangeStart, a.RangeEnd, a.RangeText, a.Comment)
	if err != nil {
		return false, fmt.Errorf("insert annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert annotation: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateAnnotationComment(ctx context.Context, annotationID, comment string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET comment = $2 WHERE id = $1
	`, annotationID, comment)
	if err != nil {
		return fmt.Errorf("update annotation comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update annotation comment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, r Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (id, annotation_id, user_id, user_name, user_color, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.AnnotationID, r.UserID, r.UserName, r.UserColor, r.Comment)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

// DeleteAnnotation removes an annotation and its replies. Deleting an id
// that is already gone is a no-op, which keeps ephemeral expiry racing an
// explicit delete safe.
func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = $1`, annotationID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (documents, annotations, replies int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM documents),
			(SELECT count(*) FROM annotations),
			(SELECT count(*) FROM replies)
	`).Scan(&documents, &annotations, &replies)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return documents, annotations, replies, nil
}
