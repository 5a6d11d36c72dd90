package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single LibreOffice run.
const DefaultTimeout = 30 * time.Second

// Converter turns an office document into a PDF written under outDir and
// returns the PDF path.
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, inputPath, outDir string) (string, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	return f(ctx, inputPath, outDir)
}

// LibreOfficeConverter shells out to a headless LibreOffice.
type LibreOfficeConverter struct {
	Binary  string
	Timeout time.Duration
}

// NewLibreOfficeConverter uses binary, or "libreoffice" from PATH.
func NewLibreOfficeConverter(binary string, timeout time.Duration) *LibreOfficeConverter {
	if binary == "" {
		binary = "libreoffice"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LibreOfficeConverter{Binary: binary, Timeout: timeout}
}

// Convert runs "<binary> --headless --convert-to pdf --outdir outDir input".
func (c *LibreOfficeConverter) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, "--headless", "--convert-to", "pdf", "--outdir", outDir, inputPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("libreoffice timed out after %s", c.Timeout)
		}
		return "", fmt.Errorf("libreoffice conversion failed: %w: %s", err, strings.TrimSpace(out.String()))
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	pdf := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("PDF output file was not created: %w", err)
	}
	return pdf, nil
}
