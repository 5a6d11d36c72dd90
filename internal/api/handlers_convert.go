// handlers_convert.go - Office to PDF conversion handlers
package api

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qms-portal/docpreview/internal/convert"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/storage"
)

var _ ConversionManager = (*convert.Manager)(nil)

// ConvertHandlerImpl implements the ConvertHandler interface
type ConvertHandlerImpl struct {
	store       storage.Store
	conversions ConversionManager
}

// NewConvertHandler creates a conversion handler
func NewConvertHandler(store storage.Store, conversions ConversionManager) ConvertHandler {
	return &ConvertHandlerImpl{
		store:       store,
		conversions: conversions,
	}
}

// HandleStartConversion queues a PDF conversion for an office document.
// A running or finished job for the same document is returned as is.
func (h *ConvertHandlerImpl) HandleStartConversion(c echo.Context) error {
	if h.conversions == nil {
		return NewServiceUnavailableError("document conversion is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	job, err := h.conversions.StartJob(id)
	if err != nil {
		return fromDomainError(err, "document", id)
	}

	status := http.StatusAccepted
	if job.Status == models.ConversionComplete {
		status = http.StatusOK
	}
	return c.JSON(status, job)
}

// HandleGetConversion returns the status of a conversion job
func (h *ConvertHandlerImpl) HandleGetConversion(c echo.Context) error {
	if h.conversions == nil {
		return NewServiceUnavailableError("document conversion is disabled")
	}
	jobID := c.Param("jobId")
	if jobID == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.conversions.GetJob(jobID)
	if !ok {
		return NewNotFoundError("conversion job", jobID)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleGetConvertedPDF serves the PDF produced for a document
func (h *ConvertHandlerImpl) HandleGetConvertedPDF(c echo.Context) error {
	if h.conversions == nil {
		return NewServiceUnavailableError("document conversion is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	doc, err := h.store.Get(id)
	if err != nil {
		return fromDomainError(err, "document", id)
	}
	path, ok := h.conversions.Output(id)
	if !ok {
		return NewNotFoundError("converted pdf", id)
	}

	name := strings.TrimSuffix(doc.OriginalName, filepath.Ext(doc.OriginalName)) + ".pdf"
	return serveLocalFile(c, path, name, "application/pdf", time.Time{})
}
