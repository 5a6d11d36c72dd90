package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/preview"
	"github.com/qms-portal/docpreview/internal/storage"
)

// MaxViewers limits concurrent viewers to prevent memory exhaustion
const MaxViewers = 256

// ViewerMaxAge is how long an untouched viewer is kept before cleanup
const ViewerMaxAge = 30 * time.Minute

// NoDocumentMessage is shown when a record has no uploaded document.
const NoDocumentMessage = "No document uploaded for this record"

// ErrViewerNotFound is returned for unknown viewer ids.
var ErrViewerNotFound = errors.New("viewer not found")

// Viewer is one preview surface, typically a review page in a browser tab.
type Viewer struct {
	ID      string
	Session *preview.Session

	updates chan struct{}

	mu           sync.Mutex
	frame        *FrameLoader
	running      bool
	lastAccessed time.Time
}

// Updates signals whenever the preview surface changed. Bursts collapse into
// one pending notification; read Session.Snapshot for the state.
func (v *Viewer) Updates() <-chan struct{} {
	return v.updates
}

// Running reports whether a resolution is in progress.
func (v *Viewer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// FrameAttached reports whether a browser frame drives this viewer.
func (v *Viewer) FrameAttached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame != nil
}

func (v *Viewer) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

func (v *Viewer) touch() {
	v.mu.Lock()
	v.lastAccessed = time.Now()
	v.mu.Unlock()
}

// viewerRenderer forwards surface changes to Updates. It runs under the
// session lock, so it only signals.
type viewerRenderer struct {
	v *Viewer
}

func (r viewerRenderer) ShowLoading() { r.v.notify() }

func (r viewerRenderer) ShowPlaceholder(string) { r.v.notify() }

func (r viewerRenderer) ShowRendered(preview.Target) { r.v.notify() }

func (r viewerRenderer) ShowDownloadOnly(string, string) { r.v.notify() }

func (r viewerRenderer) SetOpenExternallyTarget(string) { r.v.notify() }

// Manager owns the preview viewers and runs their resolutions.
type Manager struct {
	viewers  map[string]*Viewer
	mu       sync.RWMutex
	resolver *preview.Resolver
	store    storage.Store
	headless preview.Loader
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a viewer manager. headless loads targets for viewers
// without a browser frame.
func NewManager(resolver *preview.Resolver, store storage.Store, headless preview.Loader, log *logger.Logger) *Manager {
	if resolver == nil {
		resolver = preview.NewResolver(nil, nil, nil, log)
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		viewers:  make(map[string]*Viewer),
		resolver: resolver,
		store:    store,
		headless: headless,
		log:      log.Component("viewers"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Open returns the viewer with id, creating it when needed. An empty id
// creates a viewer with a fresh id.
func (m *Manager) Open(id string) *Viewer {
	m.cleanupOldViewersIfNeeded()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if v, ok := m.viewers[id]; ok {
			v.touch()
			return v
		}
	} else {
		id = uuid.New().String()
	}

	v := &Viewer{
		ID:           id,
		updates:      make(chan struct{}, 1),
		lastAccessed: time.Now(),
	}
	v.Session = preview.NewSession(viewerRenderer{v: v}, m.headless)
	m.viewers[id] = v
	m.log.WithViewer(id).Debug("viewer opened")
	return v
}

// Get returns an existing viewer.
func (m *Manager) Get(id string) (*Viewer, bool) {
	m.mu.RLock()
	v, ok := m.viewers[id]
	m.mu.RUnlock()
	if ok {
		v.touch()
	}
	return v, ok
}

// Snapshot returns the preview state of a viewer.
func (m *Manager) Snapshot(id string) (models.PreviewState, bool) {
	v, ok := m.Get(id)
	if !ok {
		return models.PreviewState{}, false
	}
	return v.Session.Snapshot(), true
}

// Preview starts resolving documentURL on a viewer in the background and
// returns immediately. Any load already running on the viewer is superseded.
func (m *Manager) Preview(viewerID, documentURL, filename string) *Viewer {
	v := m.Open(viewerID)
	log := m.log.WithViewer(v.ID)
	log.Info("preview requested", "file", filename)

	v.mu.Lock()
	v.running = true
	v.mu.Unlock()

	token, run := m.resolver.Start(m.ctx, v.Session, documentURL, filename)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		state := run()
		v.mu.Lock()
		if v.Session.Token() == token {
			v.running = false
		}
		v.mu.Unlock()
		log.Debug("preview finished", "token", token, "mode", state.DisplayMode)
	}()
	return v
}

// PreviewRecord previews the most recent document uploaded for a record,
// or shows a placeholder when there is none.
func (m *Manager) PreviewRecord(viewerID, recordID string) (*Viewer, error) {
	if m.store == nil {
		return nil, errors.New("no document store configured")
	}
	doc, err := m.store.Latest(recordID)
	if errors.Is(err, storage.ErrNotFound) {
		v := m.Open(viewerID)
		v.Session.ShowPlaceholder(NoDocumentMessage)
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest document: %w", err)
	}
	return m.Preview(viewerID, doc.URL, doc.Name), nil
}

// AttachFrame binds a browser frame to a viewer. Later attempts are sent
// to the frame; a previously attached frame is detached.
func (m *Manager) AttachFrame(viewerID string, send func(FrameLoad) error) (*Viewer, *FrameLoader) {
	v := m.Open(viewerID)
	fl := NewFrameLoader(send)

	v.mu.Lock()
	old := v.frame
	v.frame = fl
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}
	v.Session.SetLoader(fl)
	m.log.WithViewer(v.ID).Info("browser frame attached")
	return v, fl
}

// DetachFrame unbinds fl from the viewer if it is still the attached frame.
// The viewer falls back to headless loading.
func (m *Manager) DetachFrame(viewerID string, fl *FrameLoader) {
	// Swap the loader before failing waiting attempts so the next strategy
	// already loads headlessly.
	defer fl.Close()

	v, ok := m.Get(viewerID)
	if !ok {
		return
	}
	v.mu.Lock()
	current := v.frame == fl
	if current {
		v.frame = nil
	}
	v.mu.Unlock()

	if current && m.headless != nil {
		v.Session.SetLoader(m.headless)
	}
	m.log.WithViewer(viewerID).Info("browser frame detached")
}

// FrameSignal routes a frame:loaded (err == nil) or frame:error signal.
func (m *Manager) FrameSignal(viewerID string, seq uint64, err error) bool {
	v, ok := m.Get(viewerID)
	if !ok {
		return false
	}
	v.mu.Lock()
	fl := v.frame
	v.mu.Unlock()
	if fl == nil {
		return false
	}
	return fl.Signal(seq, err)
}

// ReportError delivers a posted cross-context error to a viewer's current
// attempt. A zero token targets whatever load is current.
func (m *Manager) ReportError(viewerID string, token uint64) (bool, error) {
	v, ok := m.Get(viewerID)
	if !ok {
		return false, ErrViewerNotFound
	}
	return v.Session.ReportError(token), nil
}

// Close cancels a viewer's load and forgets it.
func (m *Manager) Close(viewerID string) bool {
	m.mu.Lock()
	v, ok := m.viewers[viewerID]
	delete(m.viewers, viewerID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.closeViewer(v)
	return true
}

func (m *Manager) closeViewer(v *Viewer) {
	v.Session.Cancel()
	v.mu.Lock()
	fl := v.frame
	v.frame = nil
	v.running = false
	v.mu.Unlock()
	if fl != nil {
		fl.Close()
	}
}

// Count returns the number of open viewers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.viewers)
}

func (m *Manager) cleanupOldViewersIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.viewers) < MaxViewers {
		return
	}

	var oldest *Viewer
	var oldestAt time.Time
	for _, v := range m.viewers {
		v.mu.Lock()
		busy := v.running || v.frame != nil
		at := v.lastAccessed
		v.mu.Unlock()
		if busy {
			continue
		}
		if oldest == nil || at.Before(oldestAt) {
			oldest = v
			oldestAt = at
		}
	}
	if oldest == nil {
		return
	}
	delete(m.viewers, oldest.ID)
	m.closeViewer(oldest)
	m.log.WithViewer(oldest.ID).Info("evicted idle viewer to stay under limit")
}

// CleanupOldViewers removes viewers that have not been touched for maxAge
// and have no frame attached.
func (m *Manager) CleanupOldViewers(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, v := range m.viewers {
		v.mu.Lock()
		stale := v.frame == nil && v.lastAccessed.Before(cutoff)
		idle := time.Since(v.lastAccessed).Round(time.Second)
		v.mu.Unlock()
		if !stale {
			continue
		}
		delete(m.viewers, id)
		m.closeViewer(v)
		removed++
		m.log.WithViewer(id).Info("cleaned up idle viewer", "idle", idle)
	}
	return removed
}

// Shutdown cancels every running resolution and waits for them to return.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	for id, v := range m.viewers {
		delete(m.viewers, id)
		m.closeViewer(v)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
