package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qms-portal/docpreview/internal/models"
)

// index is the sqlite metadata table for stored documents. Blobs stay on
// disk; the index answers record lookups without scanning the directory.
type index struct {
	db *sql.DB
}

var indexMigrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		name TEXT NOT NULL UNIQUE,
		original_name TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		uploaded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_record ON documents(record_id, uploaded_at DESC)`,
}

func openIndex(path string) (*index, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("opening document index: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range indexMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating document index: %w", err)
		}
	}
	return &index{db: db}, nil
}

func (ix *index) Close() error {
	return ix.db.Close()
}

const documentColumns = `id, record_id, name, original_name, mime_type, size, uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.StoredDocument, error) {
	var (
		doc    models.StoredDocument
		millis int64
	)
	if err := row.Scan(&doc.ID, &doc.RecordID, &doc.Name, &doc.OriginalName, &doc.MimeTypeHint, &doc.Size, &millis); err != nil {
		return nil, err
	}
	doc.UploadedAt = time.UnixMilli(millis)
	return &doc, nil
}

func (ix *index) get(where string, arg any) (*models.StoredDocument, error) {
	row := ix.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE `+where, arg)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document index: %w", err)
	}
	return doc, nil
}

func (ix *index) query(query string, args ...any) ([]*models.StoredDocument, error) {
	rows, err := ix.db.Query(`SELECT `+documentColumns+` FROM documents `+query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying document index: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.StoredDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// replace inserts doc and removes every other document of the same record
// in one transaction. It returns the names of the removed documents.
func (ix *index) replace(doc *models.StoredDocument) ([]string, error) {
	tx, err := ix.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT name FROM documents WHERE record_id = ?`, doc.RecordID)
	if err != nil {
		return nil, fmt.Errorf("listing record documents: %w", err)
	}
	var removed []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, name)
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM documents WHERE record_id = ?`, doc.RecordID); err != nil {
		return nil, fmt.Errorf("removing record documents: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.RecordID, doc.Name, doc.OriginalName, doc.MimeTypeHint, doc.Size, doc.UploadedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing document: %w", err)
	}
	return removed, nil
}

func (ix *index) delete(id string) error {
	res, err := ix.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ix *index) deleteRecord(recordID string) ([]string, error) {
	docs, err := ix.query(`WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, err
	}
	if _, err := ix.db.Exec(`DELETE FROM documents WHERE record_id = ?`, recordID); err != nil {
		return nil, fmt.Errorf("deleting record documents: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names, nil
}
