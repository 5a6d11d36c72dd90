package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qms-portal/docpreview/internal/models"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidRecordID is returned for record IDs that cannot form a name prefix.
	ErrInvalidRecordID = errors.New("invalid record id")
	// ErrInvalidName is returned for unusable upload names.
	ErrInvalidName = errors.New("invalid file name")
)

// Store defines the interface for document storage.
type Store interface {
	Save(recordID, originalName string, r io.Reader) (*models.StoredDocument, error)
	Get(id string) (*models.StoredDocument, error)
	GetByName(name string) (*models.StoredDocument, error)
	List(limit int) ([]*models.StoredDocument, error)
	ListByRecord(recordID string) ([]*models.StoredDocument, error)
	Latest(recordID string) (*models.StoredDocument, error)
	Delete(id string) error
	DeleteRecord(recordID string) (int, error)
	GetFilePath(id string) (string, error)
	VerifySignature(name string, query url.Values) error
}

// Options configures how a LocalStore publishes document URLs.
type Options struct {
	// IndexPath is the sqlite index location; empty puts it in the upload dir.
	IndexPath string
	// BaseURL prefixes /files/<name> links, e.g. "http://localhost:8089".
	BaseURL string
	// SigningSecret enables signed URLs when set.
	SigningSecret string
	// SignedURLTTL is how long a signed URL stays valid.
	SignedURLTTL time.Duration
}

// LocalStore implements Store using the local filesystem and a sqlite index.
type LocalStore struct {
	mu        sync.Mutex
	uploadDir string
	index     *index
	baseURL   string
	signer    *Signer
	ttl       time.Duration
	now       func() time.Time
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string, opts Options) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(uploadDir, "documents.db")
	} else if indexPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	ix, err := openIndex(indexPath)
	if err != nil {
		return nil, err
	}

	ttl := opts.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LocalStore{
		uploadDir: uploadDir,
		index:     ix,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		signer:    NewSigner(opts.SigningSecret),
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Close releases the index.
func (s *LocalStore) Close() error {
	return s.index.Close()
}

// ValidateRecordID checks that id can be used as a stored-name prefix.
func ValidateRecordID(id string) error {
	if id == "" || strings.ContainsAny(id, "_/\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidRecordID, id)
	}
	return nil
}

// StoredName builds "<recordID>_<unixMillis>_<originalName>".
func StoredName(recordID string, at time.Time, originalName string) string {
	return fmt.Sprintf("%s_%d_%s", recordID, at.UnixMilli(), originalName)
}

// MimeTypeHint derives a content type from the extension of name.
func MimeTypeHint(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func cleanOriginalName(name string) (string, error) {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", ErrInvalidName
	}
	return name, nil
}

// Save stores a document for a record. Documents already stored for the
// record are replaced.
func (s *LocalStore) Save(recordID, originalName string, r io.Reader) (*models.StoredDocument, error) {
	if err := ValidateRecordID(recordID); err != nil {
		return nil, err
	}
	original, err := cleanOriginalName(originalName)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	name := StoredName(recordID, now, original)
	path := filepath.Join(s.uploadDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	doc := &models.StoredDocument{
		ID:           uuid.New().String(),
		RecordID:     recordID,
		Name:         name,
		OriginalName: original,
		MimeTypeHint: MimeTypeHint(original),
		Size:         size,
		UploadedAt:   now,
	}
	removed, err := s.index.replace(doc)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	for _, old := range removed {
		if old == name {
			continue
		}
		if err := os.Remove(filepath.Join(s.uploadDir, old)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing replaced file: %w", err)
		}
	}

	return s.withURL(doc), nil
}

// Get retrieves document metadata by ID.
func (s *LocalStore) Get(id string) (*models.StoredDocument, error) {
	doc, err := s.index.get(`id = ?`, id)
	if err != nil {
		return nil, err
	}
	return s.withURL(doc), nil
}

// GetByName retrieves document metadata by stored name.
func (s *LocalStore) GetByName(name string) (*models.StoredDocument, error) {
	doc, err := s.index.get(`name = ?`, name)
	if err != nil {
		return nil, err
	}
	return s.withURL(doc), nil
}

// List returns the most recent documents across all records.
func (s *LocalStore) List(limit int) ([]*models.StoredDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.index.query(`ORDER BY uploaded_at DESC, name DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return s.withURLs(docs), nil
}

// ListByRecord returns the documents of a record, newest first.
func (s *LocalStore) ListByRecord(recordID string) ([]*models.StoredDocument, error) {
	if err := ValidateRecordID(recordID); err != nil {
		return nil, err
	}
	docs, err := s.index.query(`WHERE record_id = ? ORDER BY uploaded_at DESC, name DESC`, recordID)
	if err != nil {
		return nil, err
	}
	return s.withURLs(docs), nil
}

// Latest returns the most recent upload for a record.
func (s *LocalStore) Latest(recordID string) (*models.StoredDocument, error) {
	docs, err := s.ListByRecord(recordID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Delete removes a document from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.index.get(`id = ?`, id)
	if err != nil {
		return err
	}
	if err := s.index.delete(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.uploadDir, doc.Name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// DeleteRecord removes every document of a record and returns how many
// were removed.
func (s *LocalStore) DeleteRecord(recordID string) (int, error) {
	if err := ValidateRecordID(recordID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.index.deleteRecord(recordID)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.uploadDir, name)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("deleting file: %w", err)
		}
	}
	return len(names), nil
}

// GetFilePath returns the absolute path to a document blob.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	doc, err := s.index.get(`id = ?`, id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.uploadDir, doc.Name), nil
}

// Signed reports whether the store issues signed URLs.
func (s *LocalStore) Signed() bool {
	return s.signer != nil
}

// VerifySignature checks a signed file request. It always succeeds when
// signing is disabled.
func (s *LocalStore) VerifySignature(name string, query url.Values) error {
	if s.signer == nil {
		return nil
	}
	return s.signer.Verify(name, query)
}

// PublicURL returns the unsigned link for a stored name.
func (s *LocalStore) PublicURL(name string) string {
	return s.baseURL + "/files/" + url.PathEscape(name)
}

// URLFor returns the link a viewer should load: signed when signing is
// enabled, public otherwise.
func (s *LocalStore) URLFor(name string) string {
	u := s.PublicURL(name)
	if s.signer == nil {
		return u
	}
	return u + "?" + s.signer.Sign(name, s.ttl).Encode()
}

func (s *LocalStore) withURL(doc *models.StoredDocument) *models.StoredDocument {
	doc.URL = s.URLFor(doc.Name)
	return doc
}

func (s *LocalStore) withURLs(docs []*models.StoredDocument) []*models.StoredDocument {
	for _, d := range docs {
		s.withURL(d)
	}
	return docs
}
