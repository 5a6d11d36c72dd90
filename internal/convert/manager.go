package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
)

// ErrNotConvertible is returned for documents that are not office files.
var ErrNotConvertible = errors.New("only office documents can be converted to PDF")

var convertible = map[string]bool{
	".doc": true, ".docx": true,
	".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true,
}

// Convertible reports whether name has an office extension.
func Convertible(name string) bool {
	return convertible[strings.ToLower(filepath.Ext(name))]
}

// Store defines the interface needed from storage layer.
type Store interface {
	Get(id string) (*models.StoredDocument, error)
	GetFilePath(id string) (string, error)
}

// Manager runs PDF conversions asynchronously and keeps the output per
// document so repeated requests reuse it.
type Manager struct {
	jobs      map[string]*models.ConversionJob
	byDoc     map[string]string // documentID -> latest job id
	mu        sync.RWMutex
	outputDir string
	store     Store
	converter Converter
	log       *logger.Logger
	wg        sync.WaitGroup
}

// NewManager creates a new conversion manager.
func NewManager(outputDir string, store Store, converter Converter, log *logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating conversion directory: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		jobs:      make(map[string]*models.ConversionJob),
		byDoc:     make(map[string]string),
		outputDir: outputDir,
		store:     store,
		converter: converter,
		log:       log.Component("convert"),
	}, nil
}

// StartJob begins converting a document. A job that is running or finished
// with a PDF still on disk is returned instead of starting another.
func (m *Manager) StartJob(documentID string) (models.ConversionJob, error) {
	doc, err := m.store.Get(documentID)
	if err != nil {
		return models.ConversionJob{}, err
	}
	if !Convertible(doc.Name) {
		return models.ConversionJob{}, ErrNotConvertible
	}
	src, err := m.store.GetFilePath(documentID)
	if err != nil {
		return models.ConversionJob{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byDoc[documentID]; ok {
		if job, ok := m.jobs[id]; ok && m.reusableLocked(job) {
			return *job, nil
		}
	}

	job := &models.ConversionJob{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		SourceName: doc.Name,
		Status:     models.ConversionPending,
		CreatedAt:  time.Now(),
	}
	m.jobs[job.ID] = job
	m.byDoc[documentID] = job.ID

	m.wg.Add(1)
	go m.processJob(job.ID, documentID, src)

	return *job, nil
}

func (m *Manager) reusableLocked(job *models.ConversionJob) bool {
	switch job.Status {
	case models.ConversionPending, models.ConversionConverting:
		return true
	case models.ConversionComplete:
		_, err := os.Stat(job.OutputPath)
		return err == nil
	}
	return false
}

// GetJob retrieves a job by ID.
func (m *Manager) GetJob(id string) (models.ConversionJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.ConversionJob{}, false
	}
	return *job, true
}

// Output returns the converted PDF for a document once a job completed.
func (m *Manager) Output(documentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byDoc[documentID]
	if !ok {
		return "", false
	}
	job := m.jobs[id]
	if job == nil || job.Status != models.ConversionComplete {
		return "", false
	}
	return job.OutputPath, true
}

// processJob handles the actual async processing.
func (m *Manager) processJob(jobID, documentID, src string) {
	defer m.wg.Done()
	log := m.log.WithFields(map[string]any{
		"job":      logger.ShortID(jobID),
		"document": logger.ShortID(documentID),
	})

	defer func() {
		if r := recover(); r != nil {
			log.Error("conversion panicked", "panic", r)
			m.markJobError(jobID, fmt.Sprintf("conversion panicked: %v", r))
		}
	}()

	m.updateJobStatus(jobID, models.ConversionConverting)
	log.Info("starting conversion", "source", filepath.Base(src))
	start := time.Now()

	workDir, err := os.MkdirTemp(m.outputDir, "work-")
	if err != nil {
		m.markJobError(jobID, fmt.Sprintf("creating work directory: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	pdf, err := m.converter.Convert(context.Background(), src, workDir)
	if err != nil {
		m.markJobError(jobID, err.Error())
		return
	}

	final := filepath.Join(m.outputDir, jobID+".pdf")
	if err := os.Rename(pdf, final); err != nil {
		m.markJobError(jobID, fmt.Sprintf("storing PDF: %v", err))
		return
	}
	info, err := os.Stat(final)
	if err != nil {
		m.markJobError(jobID, fmt.Sprintf("reading PDF: %v", err))
		return
	}

	m.markJobComplete(jobID, final, info.Size())
	log.Info("conversion complete", "bytes", info.Size(), "elapsed", time.Since(start).Round(time.Millisecond))
}

// updateJobStatus updates job status (thread-safe).
func (m *Manager) updateJobStatus(jobID string, status models.ConversionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
	}
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(jobID, output string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		os.Remove(output)
		return
	}
	job.Status = models.ConversionComplete
	job.OutputPath = output
	job.OutputSize = size
	now := time.Now()
	job.CompletedAt = &now
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(jobID, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = models.ConversionError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	m.log.Warn("conversion failed", "job", logger.ShortID(jobID), "error", errMsg)
}

// Forget drops cached output for a document, e.g. after it was deleted.
func (m *Manager) Forget(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDoc[documentID]
	if !ok {
		return
	}
	delete(m.byDoc, documentID)
	if job, ok := m.jobs[id]; ok && job.OutputPath != "" {
		os.Remove(job.OutputPath)
		job.OutputPath = ""
	}
}

// CleanupOldJobs removes finished jobs older than maxAge and their output.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.Status != models.ConversionComplete && job.Status != models.ConversionError {
			continue
		}
		if job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if job.OutputPath != "" {
			os.Remove(job.OutputPath)
		}
		if m.byDoc[job.DocumentID] == id {
			delete(m.byDoc, job.DocumentID)
		}
		delete(m.jobs, id)
		removed++
	}
	return removed
}

// Wait blocks until running conversions finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}
