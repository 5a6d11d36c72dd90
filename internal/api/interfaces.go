// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/qms-portal/docpreview/internal/history"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/session"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// DocumentHandler handles uploads and the document index
type DocumentHandler interface {
	HandleUploadDocument(c echo.Context) error
	HandleListDocuments(c echo.Context) error
	HandleGetDocument(c echo.Context) error
	HandleDeleteDocument(c echo.Context) error
	HandleDeleteRecordDocuments(c echo.Context) error
}

// FileHandler serves stored document blobs
type FileHandler interface {
	HandleServeFile(c echo.Context) error
}

// PreviewHandler handles preview viewers over plain HTTP
type PreviewHandler interface {
	HandleStartPreview(c echo.Context) error
	HandleGetPreview(c echo.Context) error
	HandleGetPreviewMsgpack(c echo.Context) error
	HandleOpenExternally(c echo.Context) error
	HandleReportError(c echo.Context) error
	HandleClosePreview(c echo.Context) error
	HandlePreviewStats(c echo.Context) error
}

// ConvertHandler handles office to PDF conversion jobs
type ConvertHandler interface {
	HandleStartConversion(c echo.Context) error
	HandleGetConversion(c echo.Context) error
	HandleGetConvertedPDF(c echo.Context) error
}

// ViewerManager defines the viewer operations the handlers need.
// This allows mocking in tests
type ViewerManager interface {
	Open(id string) *session.Viewer
	Snapshot(id string) (models.PreviewState, bool)
	Preview(viewerID, documentURL, filename string) *session.Viewer
	PreviewRecord(viewerID, recordID string) (*session.Viewer, error)
	AttachFrame(viewerID string, send func(session.FrameLoad) error) (*session.Viewer, *session.FrameLoader)
	DetachFrame(viewerID string, fl *session.FrameLoader)
	FrameSignal(viewerID string, seq uint64, err error) bool
	ReportError(viewerID string, token uint64) (bool, error)
	Close(viewerID string) bool
	Count() int
}

// ConversionManager defines the conversion job operations the handlers need
type ConversionManager interface {
	StartJob(documentID string) (models.ConversionJob, error)
	GetJob(id string) (models.ConversionJob, bool)
	Output(documentID string) (string, bool)
	Forget(documentID string)
}

// StatsSource aggregates the recorded viewer attempts
type StatsSource interface {
	Stats(ctx context.Context) (*history.Stats, error)
}

var (
	_ ViewerManager = (*session.Manager)(nil)
	_ StatsSource   = (*history.Store)(nil)
)
