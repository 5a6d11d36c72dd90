package models

import "time"

// ConversionStatus represents the status of a PDF conversion job.
type ConversionStatus string

const (
	ConversionPending    ConversionStatus = "pending"
	ConversionConverting ConversionStatus = "converting"
	ConversionComplete   ConversionStatus = "complete"
	ConversionError      ConversionStatus = "error"
)

// ConversionJob tracks conversion of an office document to PDF for viewing.
type ConversionJob struct {
	ID          string           `json:"id"`
	DocumentID  string           `json:"documentId"`
	SourceName  string           `json:"sourceName"`
	Status      ConversionStatus `json:"status"`
	OutputPath  string           `json:"-"`
	OutputSize  int64            `json:"outputSize,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}
