// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/storage"
)

// MockStorage implements storage.Store in memory. Blobs are written under
// a temp directory so handlers that serve or convert files can open them.
type MockStorage struct {
	mu      sync.RWMutex
	tempDir string
	baseURL string
	docs    map[string]*models.StoredDocument
	now     time.Time

	// SignatureErr is returned by VerifySignature when set.
	SignatureErr error
}

// NewMockStorage creates a mock storage writing blobs to tempDir.
func NewMockStorage(tempDir string) *MockStorage {
	return &MockStorage{
		tempDir: tempDir,
		baseURL: "http://files.test",
		docs:    make(map[string]*models.StoredDocument),
		now:     time.UnixMilli(1700000000000),
	}
}

func (m *MockStorage) Save(recordID, originalName string, r io.Reader) (*models.StoredDocument, error) {
	if err := storage.ValidateRecordID(recordID); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, d := range m.docs {
		if d.RecordID == recordID {
			os.Remove(filepath.Join(m.tempDir, d.Name))
			delete(m.docs, id)
		}
	}

	// Each save moves the clock so ordering is deterministic.
	m.now = m.now.Add(time.Millisecond)
	name := storage.StoredName(recordID, m.now, originalName)
	if err := os.WriteFile(filepath.Join(m.tempDir, name), data, 0644); err != nil {
		return nil, err
	}
	doc := &models.StoredDocument{
		ID:           generateTestID(),
		RecordID:     recordID,
		Name:         name,
		OriginalName: originalName,
		MimeTypeHint: storage.MimeTypeHint(originalName),
		Size:         int64(len(data)),
		UploadedAt:   m.now,
		URL:          m.baseURL + "/files/" + url.PathEscape(name),
	}
	m.docs[doc.ID] = doc
	return copyDoc(doc), nil
}

func (m *MockStorage) Get(id string) (*models.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *MockStorage) GetByName(name string) (*models.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.docs {
		if d.Name == name {
			return copyDoc(d), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockStorage) List(limit int) ([]*models.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.sortedLocked(func(*models.StoredDocument) bool { return true })
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (m *MockStorage) ListByRecord(recordID string) ([]*models.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(func(d *models.StoredDocument) bool { return d.RecordID == recordID }), nil
}

func (m *MockStorage) Latest(recordID string) (*models.StoredDocument, error) {
	docs, _ := m.ListByRecord(recordID)
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return docs[0], nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return storage.ErrNotFound
	}
	os.Remove(filepath.Join(m.tempDir, doc.Name))
	delete(m.docs, id)
	return nil
}

func (m *MockStorage) DeleteRecord(recordID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, d := range m.docs {
		if d.RecordID == recordID {
			os.Remove(filepath.Join(m.tempDir, d.Name))
			delete(m.docs, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return filepath.Join(m.tempDir, doc.Name), nil
}

func (m *MockStorage) VerifySignature(string, url.Values) error {
	return m.SignatureErr
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// GetFileCount returns the number of stored documents
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MockStorage) sortedLocked(keep func(*models.StoredDocument) bool) []*models.StoredDocument {
	docs := make([]*models.StoredDocument, 0, len(m.docs))
	for _, d := range m.docs {
		if keep(d) {
			docs = append(docs, copyDoc(d))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs
}

func copyDoc(d *models.StoredDocument) *models.StoredDocument {
	c := *d
	return &c
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
