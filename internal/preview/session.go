package preview

import (
	"context"
	"sync"
	"time"

	"github.com/qms-portal/docpreview/internal/models"
)

// Renderer is the preview surface owned by the hosting UI. The session calls
// it while holding its lock, so implementations must not call back into the
// Session and should hand work off rather than block.
type Renderer interface {
	ShowLoading()
	ShowPlaceholder(message string)
	ShowRendered(target Target)
	ShowDownloadOnly(documentURL, filename string)
	// SetOpenExternallyTarget publishes the URL for the "open in new window"
	// control. An empty URL disables the control.
	SetOpenExternallyTarget(url string)
}

// Loader drives the render target. Load returns nil on a load signal and an
// error on an error event. It must return promptly once ctx is done.
type Loader interface {
	Load(ctx context.Context, target Target) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, target Target) error

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, target Target) error { return f(ctx, target) }

// Session is one preview surface and its current load. A new Begin
// invalidates everything started under older tokens.
type Session struct {
	renderer Renderer
	loader   Loader

	mu            sync.Mutex
	token         uint64
	cancel        context.CancelFunc
	attemptCancel context.CancelCauseFunc
	state         models.PreviewState
}

// NewSession creates an idle session. A nil renderer discards updates and a
// nil loader fails every attempt.
func NewSession(renderer Renderer, loader Loader) *Session {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if loader == nil {
		loader = LoaderFunc(func(context.Context, Target) error { return ErrRenderFailed })
	}
	return &Session{
		renderer: renderer,
		loader:   loader,
		state:    models.NewPreviewState(),
	}
}

// Loader returns the loader bound to the session.
func (s *Session) Loader() Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loader
}

// SetLoader swaps the render-target loader, e.g. when a browser frame attaches.
// Only loads started afterwards use it.
func (s *Session) SetLoader(l Loader) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.loader = l
	s.mu.Unlock()
}

// Begin starts a new load: it cancels the previous run and its pending
// timeout, bumps the token and resets the surface to loading.
func (s *Session) Begin(parent context.Context, documentURL, filename string) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.resetLocked()
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.state.DocumentURL = documentURL
	s.state.Filename = filename
	s.state.DisplayMode = models.DisplayLoading

	s.renderer.ShowLoading()
	s.renderer.SetOpenExternallyTarget("")
	return ctx, token
}

// ShowPlaceholder cancels any load and shows a message instead of a
// document, e.g. when a record has no uploaded file.
func (s *Session) ShowPlaceholder(message string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.resetLocked()
	s.state.DisplayMode = models.DisplayPlaceholder
	s.state.Message = message

	s.renderer.ShowPlaceholder(message)
	s.renderer.SetOpenExternallyTarget("")
	return token
}

// Cancel stops the current load without starting a new one. Later writes
// from the canceled run are ignored.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.attemptCancel = nil
	s.token++
	s.state.SessionToken = s.token
}

// ReportError delivers a posted cross-context error for the attempt running
// under token. A zero token targets the current load. It reports whether an
// attempt was interrupted.
func (s *Session) ReportError(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != 0 && token != s.token {
		return false
	}
	if s.attemptCancel == nil {
		return false
	}
	s.attemptCancel(ErrPostedError)
	return true
}

// Token returns the current session token.
func (s *Session) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() models.PreviewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.PreviewState {
	st := s.state
	st.Attempts = append(make([]models.ViewerAttempt, 0, len(s.state.Attempts)), s.state.Attempts...)
	return st
}

func (s *Session) resetLocked() uint64 {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.attemptCancel = nil
	s.token++
	s.state = models.NewPreviewState()
	s.state.SessionToken = s.token
	return s.token
}

// startAttempt arms the attempt context for target: a cancel-cause layer for
// posted errors under a timeout layer. ok is false when token is stale.
func (s *Session) startAttempt(runCtx context.Context, token uint64, target Target) (ctx context.Context, done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return nil, nil, false
	}

	causeCtx, cancelCause := context.WithCancelCause(runCtx)
	ctx = causeCtx
	stopTimer := context.CancelFunc(func() {})
	if target.Timeout > 0 {
		ctx, stopTimer = context.WithTimeoutCause(causeCtx, target.Timeout, ErrRenderTimeout)
		s.state.TimersStarted++
	}
	s.attemptCancel = cancelCause

	s.state.Strategy = target.Strategy
	s.state.Attempts = append(s.state.Attempts, models.ViewerAttempt{
		Strategy:  target.Strategy,
		TargetURL: target.URL,
		Timeout:   target.Timeout,
		Outcome:   models.OutcomePending,
		StartedAt: time.Now(),
	})

	done = func() {
		stopTimer()
		cancelCause(nil)
	}
	return ctx, done, true
}

func (s *Session) finishAttempt(token uint64, outcome models.AttemptOutcome) (models.ViewerAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token || len(s.state.Attempts) == 0 {
		return models.ViewerAttempt{}, false
	}
	s.attemptCancel = nil
	last := &s.state.Attempts[len(s.state.Attempts)-1]
	last.Outcome = outcome
	last.Duration = time.Since(last.StartedAt)
	return *last, true
}

func (s *Session) render(token uint64, target Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	s.state.DisplayMode = models.DisplayRendered
	s.state.Strategy = target.Strategy
	s.state.ViewerURL = target.URL
	s.state.OpenEnabled = true
	s.state.Message = ""

	s.renderer.ShowRendered(target)
	s.renderer.SetOpenExternallyTarget(target.URL)
	return true
}

func (s *Session) downloadOnly(token uint64, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	s.attemptCancel = nil
	s.state.DisplayMode = models.DisplayDownloadOnly
	s.state.ViewerURL = ""
	s.state.OpenEnabled = false
	s.state.Message = message

	s.renderer.ShowDownloadOnly(s.state.DocumentURL, models.DisplayName(s.state.Filename))
	s.renderer.SetOpenExternallyTarget("")
	return true
}

// NopRenderer ignores every update.
type NopRenderer struct{}

func (NopRenderer) ShowLoading() {}

func (NopRenderer) ShowPlaceholder(string) {}

func (NopRenderer) ShowRendered(Target) {}

func (NopRenderer) ShowDownloadOnly(string, string) {}

func (NopRenderer) SetOpenExternallyTarget(string) {}
