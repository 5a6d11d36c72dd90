package preview

import "errors"

var (
	// ErrUnreachable means the existence check failed. Terminal.
	ErrUnreachable = errors.New("document unreachable")
	// ErrRenderFailed means the render target raised an error event.
	ErrRenderFailed = errors.New("render failed")
	// ErrRenderTimeout means no load signal arrived within the strategy budget.
	ErrRenderTimeout = errors.New("render timed out")
	// ErrPostedError means a cross-context error message was received.
	ErrPostedError = errors.New("render target posted an error")
	// ErrExhausted means every strategy in the chain failed. Terminal.
	ErrExhausted = errors.New("all viewer strategies failed")
	// ErrInvalidFilename is returned for empty or unusable filenames.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrSuperseded means a newer load replaced the session run.
	ErrSuperseded = errors.New("preview superseded by a newer load")
)
