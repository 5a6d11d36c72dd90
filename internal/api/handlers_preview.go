// handlers_preview.go - Preview viewer handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/session"
	"github.com/qms-portal/docpreview/internal/storage"
)

// PreviewHandlerImpl implements the PreviewHandler interface
type PreviewHandlerImpl struct {
	viewers ViewerManager
	stats   StatsSource
	log     *logger.Logger
}

// NewPreviewHandler creates a preview handler. A nil stats source disables
// the stats endpoint.
func NewPreviewHandler(viewers ViewerManager, stats StatsSource, log *logger.Logger) PreviewHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &PreviewHandlerImpl{
		viewers: viewers,
		stats:   stats,
		log:     log.Component("preview-api"),
	}
}

// previewResponse is returned when a preview starts
type previewResponse struct {
	ViewerID string              `json:"viewerId"`
	State    models.PreviewState `json:"state"`
}

// HandleStartPreview starts resolving a document on a viewer. The load runs
// in the background; poll the viewer or follow it over the WebSocket.
func (h *PreviewHandlerImpl) HandleStartPreview(c echo.Context) error {
	var req startPreviewRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	var v *session.Viewer
	if req.RecordID != "" {
		var err error
		v, err = h.viewers.PreviewRecord(req.ViewerID, req.RecordID)
		if err != nil {
			return fromDomainError(err, "record", req.RecordID)
		}
	} else {
		v = h.viewers.Preview(req.ViewerID, req.URL, req.Filename)
	}

	return c.JSON(http.StatusAccepted, previewResponse{
		ViewerID: v.ID,
		State:    v.Session.Snapshot(),
	})
}

// HandleGetPreview returns the current state of a viewer
func (h *PreviewHandlerImpl) HandleGetPreview(c echo.Context) error {
	state, err := h.snapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// HandleGetPreviewMsgpack returns the viewer state encoded as MessagePack
func (h *PreviewHandlerImpl) HandleGetPreviewMsgpack(c echo.Context) error {
	state, err := h.snapshot(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(state)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleOpenExternally redirects to the URL the "open in new window"
// control would open.
func (h *PreviewHandlerImpl) HandleOpenExternally(c echo.Context) error {
	state, err := h.snapshot(c)
	if err != nil {
		return err
	}
	target := state.OpenExternallyURL()
	if target == "" {
		return NewConflictError("preview cannot be opened in a new window")
	}
	return c.Redirect(http.StatusFound, target)
}

// HandleReportError delivers an error posted by an embedded viewer. The
// token pins the report to one load; zero means the current load.
func (h *PreviewHandlerImpl) HandleReportError(c echo.Context) error {
	viewerID := c.Param("viewerId")
	if viewerID == "" {
		return NewValidationError("viewerId")
	}

	var req reportErrorRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	interrupted, err := h.viewers.ReportError(viewerID, req.Token)
	if err != nil {
		return fromDomainError(err, "viewer", viewerID)
	}
	h.log.WithViewer(viewerID).Debug("posted viewer error", "token", req.Token,
		"interrupted", interrupted, "message", req.Message)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"interrupted": interrupted,
	})
}

// HandleClosePreview cancels a viewer's load and forgets the viewer
func (h *PreviewHandlerImpl) HandleClosePreview(c echo.Context) error {
	viewerID := c.Param("viewerId")
	if viewerID == "" {
		return NewValidationError("viewerId")
	}
	if !h.viewers.Close(viewerID) {
		return NewNotFoundError("viewer", viewerID)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandlePreviewStats returns per-strategy attempt statistics
func (h *PreviewHandlerImpl) HandlePreviewStats(c echo.Context) error {
	if h.stats == nil {
		return NewServiceUnavailableError("attempt history is disabled")
	}
	stats, err := h.stats.Stats(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to aggregate attempt history", err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *PreviewHandlerImpl) snapshot(c echo.Context) (models.PreviewState, error) {
	viewerID := c.Param("viewerId")
	if viewerID == "" {
		return models.PreviewState{}, NewValidationError("viewerId")
	}
	state, ok := h.viewers.Snapshot(viewerID)
	if !ok {
		return models.PreviewState{}, NewNotFoundError("viewer", viewerID)
	}
	return state, nil
}

// Request types

type startPreviewRequest struct {
	ViewerID string `json:"viewerId"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	RecordID string `json:"recordId"`
}

func (r *startPreviewRequest) validate() error {
	if r.RecordID != "" {
		if r.URL != "" {
			return NewBadRequestError("give either recordId or url, not both", nil)
		}
		if err := storage.ValidateRecordID(r.RecordID); err != nil {
			return NewBadRequestError("invalid record id", err)
		}
		return nil
	}
	if r.URL == "" {
		return NewValidationError("url")
	}
	return nil
}

type reportErrorRequest struct {
	Token   uint64 `json:"token"`
	Message string `json:"message"`
}
