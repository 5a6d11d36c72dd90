// handlers_files.go - Stored document delivery
package api

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qms-portal/docpreview/internal/storage"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store         storage.Store
	requireSigned bool
}

// NewFileHandler creates a file handler. With requireSigned, requests must
// carry a valid expires/sig pair.
func NewFileHandler(store storage.Store, requireSigned bool) FileHandler {
	return &FileHandlerImpl{
		store:         store,
		requireSigned: requireSigned,
	}
}

// HandleServeFile serves GET and HEAD for /files/:name. Hosted viewers and
// the existence check fetch documents through this route.
func (h *FileHandlerImpl) HandleServeFile(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return NewValidationError("name")
	}

	doc, err := h.store.GetByName(name)
	if err != nil {
		return fromDomainError(err, "file", name)
	}
	if h.requireSigned {
		if err := h.store.VerifySignature(name, c.QueryParams()); err != nil {
			return fromDomainError(err, "file", name)
		}
	}

	path, err := h.store.GetFilePath(doc.ID)
	if err != nil {
		return fromDomainError(err, "file", name)
	}
	return serveLocalFile(c, path, doc.OriginalName, doc.MimeTypeHint, doc.UploadedAt)
}

// serveLocalFile streams a file inline. http.ServeContent answers HEAD and
// range requests.
func serveLocalFile(c echo.Context, path, downloadName, contentType string, modTime time.Time) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewNotFoundError("file", downloadName)
	}
	if err != nil {
		return NewInternalError("failed to open file", err)
	}
	defer f.Close()

	if modTime.IsZero() {
		if info, err := f.Stat(); err == nil {
			modTime = info.ModTime()
		}
	}

	header := c.Response().Header()
	if contentType != "" {
		header.Set(echo.HeaderContentType, contentType)
	}
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": downloadName})
	if disposition == "" {
		disposition = fmt.Sprintf("inline; filename=%q", downloadName)
	}
	header.Set(echo.HeaderContentDisposition, disposition)
	header.Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(c.Response(), c.Request(), downloadName, modTime, f)
	return nil
}
