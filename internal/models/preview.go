package models

import (
	"encoding/json"
	"time"
)

// DisplayMode is what the preview surface currently shows.
type DisplayMode string

const (
	DisplayIdle         DisplayMode = "idle"
	DisplayLoading      DisplayMode = "loading"
	DisplayPlaceholder  DisplayMode = "placeholder"
	DisplayRendered     DisplayMode = "rendered"
	DisplayDownloadOnly DisplayMode = "download-only"
)

// Terminal reports whether the mode ends a preview session.
func (m DisplayMode) Terminal() bool {
	return m == DisplayRendered || m == DisplayDownloadOnly || m == DisplayPlaceholder
}

// AttemptOutcome records how a single viewer attempt ended.
type AttemptOutcome string

const (
	OutcomePending     AttemptOutcome = "pending"
	OutcomeLoaded      AttemptOutcome = "loaded"
	OutcomeError       AttemptOutcome = "error"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomePostedError AttemptOutcome = "posted-error"
	OutcomeCanceled    AttemptOutcome = "canceled"
)

// ViewerAttempt is one strategy tried during a preview session.
type ViewerAttempt struct {
	Strategy  string         `json:"strategy" msgpack:"strategy"`
	TargetURL string         `json:"targetUrl" msgpack:"targetUrl"`
	Timeout   time.Duration  `json:"-" msgpack:"timeout"`
	Outcome   AttemptOutcome `json:"outcome" msgpack:"outcome"`
	StartedAt time.Time      `json:"startedAt" msgpack:"startedAt"`
	Duration  time.Duration  `json:"-" msgpack:"duration,omitempty"`
}

type viewerAttemptJSON struct {
	viewerAttemptFields
	TimeoutMs  int64 `json:"timeoutMs"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

type viewerAttemptFields ViewerAttempt

// MarshalJSON encodes the durations as whole milliseconds.
func (a ViewerAttempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(viewerAttemptJSON{
		viewerAttemptFields: viewerAttemptFields(a),
		TimeoutMs:           a.Timeout.Milliseconds(),
		DurationMs:          a.Duration.Milliseconds(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *ViewerAttempt) UnmarshalJSON(data []byte) error {
	var v viewerAttemptJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = ViewerAttempt(v.viewerAttemptFields)
	a.Timeout = time.Duration(v.TimeoutMs) * time.Millisecond
	a.Duration = time.Duration(v.DurationMs) * time.Millisecond
	return nil
}

// PreviewState is the observable state of a preview session.
type PreviewState struct {
	SessionToken  uint64          `json:"sessionToken" msgpack:"sessionToken"`
	DocumentURL   string          `json:"documentUrl,omitempty" msgpack:"documentUrl,omitempty"`
	Filename      string          `json:"filename,omitempty" msgpack:"filename,omitempty"`
	ViewerURL     string          `json:"viewerUrl,omitempty" msgpack:"viewerUrl,omitempty"`
	OpenEnabled   bool            `json:"openEnabled" msgpack:"openEnabled"`
	DisplayMode   DisplayMode     `json:"displayMode" msgpack:"displayMode"`
	Strategy      string          `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	Message       string          `json:"message,omitempty" msgpack:"message,omitempty"`
	Attempts      []ViewerAttempt `json:"attempts" msgpack:"attempts"`
	TimersStarted int             `json:"timersStarted" msgpack:"timersStarted"`
}

// NewPreviewState returns the idle state of a fresh session.
func NewPreviewState() PreviewState {
	return PreviewState{
		DisplayMode: DisplayIdle,
		Attempts:    make([]ViewerAttempt, 0),
	}
}

// OpenExternallyURL is the URL an "open in new window" control should use:
// the viewer URL when one is published, otherwise the raw document URL.
func (s PreviewState) OpenExternallyURL() string {
	if !s.OpenEnabled {
		return ""
	}
	if s.ViewerURL != "" {
		return s.ViewerURL
	}
	return s.DocumentURL
}
