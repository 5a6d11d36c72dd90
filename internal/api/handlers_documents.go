// handlers_documents.go - Document upload and index handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DocumentHandlerImpl implements the DocumentHandler interface
type DocumentHandlerImpl struct {
	store       storage.Store
	conversions ConversionManager
	log         *logger.Logger
}

// NewDocumentHandler creates a new document handler instance
func NewDocumentHandler(store storage.Store, conversions ConversionManager, log *logger.Logger) DocumentHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentHandlerImpl{
		store:       store,
		conversions: conversions,
		log:         log.Component("documents"),
	}
}

// HandleUploadDocument stores a multipart upload against a record. An
// earlier upload for the same record is replaced.
func (h *DocumentHandlerImpl) HandleUploadDocument(c echo.Context) error {
	recordID := c.FormValue("recordId")
	if recordID == "" {
		return NewValidationError("recordId")
	}
	if err := storage.ValidateRecordID(recordID); err != nil {
		return NewBadRequestError("invalid record id", err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return NewValidationError("file")
	}
	src, err := fh.Open()
	if err != nil {
		return NewBadRequestError("failed to read upload", err)
	}
	defer src.Close()

	replaced, _ := h.store.ListByRecord(recordID)

	doc, err := h.store.Save(recordID, fh.Filename, src)
	if err != nil {
		return fromDomainError(err, "document", recordID)
	}
	if h.conversions != nil {
		for _, old := range replaced {
			h.conversions.Forget(old.ID)
		}
	}

	h.log.Info("document uploaded", "record", recordID, "name", doc.Name, "size", doc.Size)
	return c.JSON(http.StatusCreated, doc)
}

// HandleListDocuments lists recent uploads, or the uploads of one record
// when recordId is given.
func (h *DocumentHandlerImpl) HandleListDocuments(c echo.Context) error {
	if recordID := c.QueryParam("recordId"); recordID != "" {
		docs, err := h.store.ListByRecord(recordID)
		if err != nil {
			return fromDomainError(err, "record", recordID)
		}
		return c.JSON(http.StatusOK, docs)
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewBadRequestError("limit must be a positive integer", err)
		}
		limit = min(n, maxListLimit)
	}

	docs, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list documents", err)
	}
	return c.JSON(http.StatusOK, docs)
}

// HandleGetDocument returns a single document with its URL
func (h *DocumentHandlerImpl) HandleGetDocument(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	doc, err := h.store.Get(id)
	if err != nil {
		return fromDomainError(err, "document", id)
	}
	return c.JSON(http.StatusOK, doc)
}

// HandleDeleteDocument removes a document and any converted copy of it
func (h *DocumentHandlerImpl) HandleDeleteDocument(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return fromDomainError(err, "document", id)
	}
	if h.conversions != nil {
		h.conversions.Forget(id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteRecordDocuments removes every document of a record
func (h *DocumentHandlerImpl) HandleDeleteRecordDocuments(c echo.Context) error {
	recordID := c.Param("recordId")
	if recordID == "" {
		return NewValidationError("recordId")
	}

	docs, _ := h.store.ListByRecord(recordID)
	removed, err := h.store.DeleteRecord(recordID)
	if err != nil {
		return fromDomainError(err, "record", recordID)
	}
	if h.conversions != nil {
		for _, doc := range docs {
			h.conversions.Forget(doc.ID)
		}
	}

	h.log.Info("record documents deleted", "record", recordID, "count", removed)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"recordId": recordID,
		"removed":  removed,
	})
}
