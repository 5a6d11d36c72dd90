package preview

import (
	"context"
	"errors"
	"fmt"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
)

// Prober performs the lightweight existence check before rendering.
type Prober interface {
	Exists(ctx context.Context, documentURL string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, documentURL string) error

// Exists calls f.
func (f ProberFunc) Exists(ctx context.Context, documentURL string) error { return f(ctx, documentURL) }

// Observer is told about every finished attempt and every session that
// reaches a terminal state.
type Observer interface {
	AttemptFinished(documentURL string, attempt models.ViewerAttempt)
	SessionFinished(state models.PreviewState)
}

// Resolver selects and drives render strategies for a session.
type Resolver struct {
	catalog  *Catalog
	prober   Prober
	observer Observer
	log      *logger.Logger
}

// NewResolver creates a resolver. A nil catalog uses DefaultCatalog, a nil
// prober skips the existence check, nil observer and logger are no-ops.
func NewResolver(catalog *Catalog, prober Prober, observer Observer, log *logger.Logger) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if prober == nil {
		prober = ProberFunc(func(context.Context, string) error { return nil })
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		catalog:  catalog,
		prober:   prober,
		observer: observer,
		log:      log.Component("preview"),
	}
}

// Catalog returns the viewer catalog in use.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve starts a new load on sess and blocks until it reaches a terminal
// state or is superseded by a newer load. It never fails: problems end in
// download-only mode and are logged. The returned state is the session
// snapshot when Resolve finished.
func (r *Resolver) Resolve(ctx context.Context, sess *Session, documentURL, filename string) models.PreviewState {
	_, run := r.Start(ctx, sess, documentURL, filename)
	return run()
}

// Start begins a new load on sess synchronously, so the surface is already
// loading when it returns, and hands back the session token with the
// function that drives the load. Callers usually run it on its own goroutine.
func (r *Resolver) Start(ctx context.Context, sess *Session, documentURL, filename string) (uint64, func() models.PreviewState) {
	runCtx, token := sess.Begin(ctx, documentURL, filename)
	return token, func() models.PreviewState {
		return r.run(runCtx, sess, token, documentURL, filename)
	}
}

func (r *Resolver) run(runCtx context.Context, sess *Session, token uint64, documentURL, filename string) (state models.PreviewState) {
	log := r.log.With("token", token, "file", filename)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("preview resolution panicked", "panic", rec)
			sess.downloadOnly(token, "Document preview not available")
		}
		state = sess.Snapshot()
		if state.SessionToken == token && state.DisplayMode.Terminal() {
			r.observer.SessionFinished(state)
		}
	}()

	if documentURL == "" {
		log.Warn("no document url supplied")
		sess.downloadOnly(token, "Document preview not available")
		return
	}

	kind, err := Classify(filename)
	if err != nil {
		log.Warn("cannot classify document", "error", err)
		sess.downloadOnly(token, "Document preview not available")
		return
	}
	log = log.With("kind", kind)

	switch kind {
	case KindImage:
		sess.render(token, Target{Strategy: StrategyImage, URL: documentURL})
		return
	case KindOther:
		log.Debug("no inline viewer for extension", "ext", Extension(filename))
		sess.downloadOnly(token, "Document preview not available")
		return
	}

	if kind.NeedsExistenceCheck() {
		if err := r.prober.Exists(runCtx, documentURL); err != nil {
			if runCtx.Err() != nil {
				return
			}
			log.Warn("document existence check failed", "error", err)
			sess.downloadOnly(token, fmt.Sprintf("%v: %v", ErrUnreachable, err))
			return
		}
	}

	for _, target := range r.catalog.Chain(kind, documentURL) {
		err := r.attempt(runCtx, sess, token, documentURL, target)
		if err == nil {
			log.Info("document rendered", "strategy", target.Strategy)
			sess.render(token, target)
			return
		}
		if errors.Is(err, ErrSuperseded) {
			return
		}
		log.Warn("viewer failed, trying next", "strategy", target.Strategy, "error", err)
	}

	log.Warn("all document viewers failed, showing download option")
	sess.downloadOnly(token, ErrExhausted.Error())
	return
}

// attempt runs one strategy against the session loader, racing it against
// the strategy timeout and posted errors.
func (r *Resolver) attempt(runCtx context.Context, sess *Session, token uint64, documentURL string, target Target) error {
	ctx, done, ok := sess.startAttempt(runCtx, token, target)
	if !ok {
		return ErrSuperseded
	}

	defer done()

	loadErr := load(ctx, sess.Loader(), target)
	cause := context.Cause(ctx)

	var (
		outcome models.AttemptOutcome
		err     error
	)
	switch {
	case runCtx.Err() != nil:
		outcome, err = models.OutcomeCanceled, ErrSuperseded
	case loadErr == nil:
		outcome = models.OutcomeLoaded
	case errors.Is(cause, ErrPostedError):
		outcome, err = models.OutcomePostedError, ErrPostedError
	case errors.Is(cause, ErrRenderTimeout):
		outcome, err = models.OutcomeTimeout, ErrRenderTimeout
	default:
		outcome, err = models.OutcomeError, fmt.Errorf("%w: %v", ErrRenderFailed, loadErr)
	}

	if finished, ok := sess.finishAttempt(token, outcome); ok {
		r.observer.AttemptFinished(documentURL, finished)
	} else if err == nil {
		return ErrSuperseded
	}
	return err
}

// load runs the loader, turning a panic into a render error so the attempt
// is still recorded and the chain moves on.
func load(ctx context.Context, l Loader, target Target) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("loader panicked: %v", rec)
		}
	}()
	return l.Load(ctx, target)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(string, models.ViewerAttempt) {}

func (nopObserver) SessionFinished(models.PreviewState) {}

// MultiObserver fans notifications out to several observers.
type MultiObserver []Observer

// AttemptFinished notifies every observer.
func (m MultiObserver) AttemptFinished(documentURL string, attempt models.ViewerAttempt) {
	for _, o := range m {
		if o != nil {
			o.AttemptFinished(documentURL, attempt)
		}
	}
}

// SessionFinished notifies every observer.
func (m MultiObserver) SessionFinished(state models.PreviewState) {
	for _, o := range m {
		if o != nil {
			o.SessionFinished(state)
		}
	}
}
