package preview

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind groups file extensions that share a fallback chain.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindSpreadsheet Kind = "spreadsheet"
	KindOffice      Kind = "office"
	KindImage       Kind = "image"
	KindOther       Kind = "other"
)

var extensionKinds = map[string]Kind{
	"pdf":  KindPDF,
	"xls":  KindSpreadsheet,
	"xlsx": KindSpreadsheet,
	"doc":  KindOffice,
	"docx": KindOffice,
	"ppt":  KindOffice,
	"pptx": KindOffice,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
	"gif":  KindImage,
	"bmp":  KindImage,
	"webp": KindImage,
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(filename)), "."))
}

// Classify maps a filename onto its strategy kind. Matching is
// case-insensitive; unknown or missing extensions are KindOther.
func Classify(filename string) (Kind, error) {
	name := strings.TrimSpace(filename)
	if name == "" || strings.HasSuffix(name, "/") {
		return KindOther, fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if kind, ok := extensionKinds[Extension(name)]; ok {
		return kind, nil
	}
	return KindOther, nil
}

// NeedsExistenceCheck reports whether the kind is probed before rendering.
func (k Kind) NeedsExistenceCheck() bool {
	return k == KindPDF || k == KindSpreadsheet || k == KindOffice
}
