package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qms-portal/docpreview/internal/preview"
)

// ErrFrameDetached is returned to attempts still waiting when the browser
// frame goes away.
var ErrFrameDetached = errors.New("browser frame detached")

// FrameLoad asks the browser adapter to point its frame at a target. The
// adapter answers with frame:loaded or frame:error carrying the same Seq.
type FrameLoad struct {
	Seq       uint64 `json:"seq" msgpack:"seq"`
	Strategy  string `json:"strategy" msgpack:"strategy"`
	URL       string `json:"url" msgpack:"url"`
	TimeoutMs int64  `json:"timeoutMs" msgpack:"timeoutMs"`
}

// FrameLoader is a preview.Loader backed by a browser frame reached over a
// WebSocket. Signals for sequence numbers that are no longer pending are
// dropped.
type FrameLoader struct {
	send func(FrameLoad) error

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan error
	closed  bool
}

// NewFrameLoader creates a loader that delivers load requests through send.
func NewFrameLoader(send func(FrameLoad) error) *FrameLoader {
	return &FrameLoader{
		send:    send,
		pending: make(map[uint64]chan error),
	}
}

var _ preview.Loader = (*FrameLoader)(nil)

// Load sends a frame:load request and waits for the matching signal.
func (f *FrameLoader) Load(ctx context.Context, target preview.Target) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFrameDetached
	}
	f.seq++
	seq := f.seq
	ch := make(chan error, 1)
	f.pending[seq] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.pending, seq)
		f.mu.Unlock()
	}()

	msg := FrameLoad{
		Seq:       seq,
		Strategy:  target.Strategy,
		URL:       target.URL,
		TimeoutMs: target.Timeout.Milliseconds(),
	}
	if err := f.send(msg); err != nil {
		return fmt.Errorf("sending frame load: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

// Signal delivers the outcome for seq: nil for a load signal, an error for
// an error event. It reports whether an attempt was waiting for it.
func (f *FrameLoader) Signal(seq uint64, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.pending[seq]
	if !ok {
		return false
	}
	delete(f.pending, seq)
	ch <- err
	return true
}

// Close fails every waiting attempt and rejects later loads.
func (f *FrameLoader) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for seq, ch := range f.pending {
		ch <- ErrFrameDetached
		delete(f.pending, seq)
	}
}
