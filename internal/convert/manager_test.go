package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/testutil"
)

func fakeConverter(calls *int32) Converter {
	return ConverterFunc(func(_ context.Context, input, outDir string) (string, error) {
		atomic.AddInt32(calls, 1)
		out := filepath.Join(outDir, "out.pdf")
		return out, os.WriteFile(out, []byte("%PDF-1.7 "+filepath.Base(input)), 0644)
	})
}

func waitForJob(t *testing.T, m *Manager, id string) models.ConversionJob {
	t.Helper()
	var job models.ConversionJob
	require.Eventually(t, func() bool {
		job, _ = m.GetJob(id)
		return job.Status == models.ConversionComplete || job.Status == models.ConversionError
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestConversionJob(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	doc, err := store.Save("DCN-1", "procedure.docx", strings.NewReader("PK"))
	require.NoError(t, err)

	var calls int32
	m, err := NewManager(t.TempDir(), store, fakeConverter(&calls), nil)
	require.NoError(t, err)

	job, err := m.StartJob(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, job.DocumentID)

	done := waitForJob(t, m, job.ID)
	require.Equal(t, models.ConversionComplete, done.Status, done.Error)
	assert.NotNil(t, done.CompletedAt)
	assert.Positive(t, done.OutputSize)

	pdf, ok := m.Output(doc.ID)
	require.True(t, ok)
	data, err := os.ReadFile(pdf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	again, err := m.StartJob(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID, "finished output is reused")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	m.Forget(doc.ID)
	_, ok = m.Output(doc.ID)
	assert.False(t, ok)
	_, err = os.Stat(pdf)
	assert.True(t, os.IsNotExist(err))
}

func TestConversionRejectsNonOffice(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	doc, _ := store.Save("DCN-1", "scan.pdf", strings.NewReader("%PDF"))
	m, err := NewManager(t.TempDir(), store, nil, nil)
	require.NoError(t, err)

	_, err = m.StartJob(doc.ID)
	assert.ErrorIs(t, err, ErrNotConvertible)

	_, err = m.StartJob("missing")
	assert.Error(t, err)
}

func TestConversionFailure(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	doc, _ := store.Save("DCN-1", "sheet.xlsx", strings.NewReader("PK"))
	failing := ConverterFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("libreoffice conversion failed: exit status 1")
	})
	m, err := NewManager(t.TempDir(), store, failing, nil)
	require.NoError(t, err)

	job, err := m.StartJob(doc.ID)
	require.NoError(t, err)
	done := waitForJob(t, m, job.ID)
	assert.Equal(t, models.ConversionError, done.Status)
	assert.Contains(t, done.Error, "exit status 1")

	retry, err := m.StartJob(doc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retry.ID, "failed jobs are not reused")
	m.Wait()
}

func TestCleanupOldJobs(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	doc, _ := store.Save("DCN-1", "a.pptx", strings.NewReader("PK"))
	var calls int32
	m, err := NewManager(t.TempDir(), store, fakeConverter(&calls), nil)
	require.NoError(t, err)

	job, _ := m.StartJob(doc.ID)
	waitForJob(t, m, job.ID)

	assert.Equal(t, 0, m.CleanupOldJobs(time.Hour))
	assert.Equal(t, 1, m.CleanupOldJobs(-time.Second))
	_, ok := m.GetJob(job.ID)
	assert.False(t, ok)
}

func TestLibreOfficeConverter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script stand-in")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-soffice")
	body := "#!/bin/sh\nbase=$(basename \"$6\")\nprintf '%%PDF' > \"$5/${base%.*}.pdf\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	input := filepath.Join(dir, "memo.docx")
	require.NoError(t, os.WriteFile(input, []byte("PK"), 0644))

	c := NewLibreOfficeConverter(script, time.Second)
	pdf, err := c.Convert(context.Background(), input, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "memo.pdf"), pdf)

	broken := NewLibreOfficeConverter(filepath.Join(dir, "does-not-exist"), time.Second)
	_, err = broken.Convert(context.Background(), input, filepath.Join(dir, "out2"))
	assert.ErrorContains(t, err, "libreoffice conversion failed")
}

func TestConvertible(t *testing.T) {
	assert.True(t, Convertible("A.DOCX"))
	assert.True(t, Convertible("b.xls"))
	assert.False(t, Convertible("c.pdf"))
	assert.False(t, Convertible("d"))
}

func TestConversionLogsCarryJobAndDocument(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	doc, err := store.Save("DCN-2", "form.xlsx", strings.NewReader("PK"))
	require.NoError(t, err)

	var buf bytes.Buffer
	var calls int32
	m, err := NewManager(t.TempDir(), store, fakeConverter(&calls), logger.NewWithWriter(&buf, "info", "json"))
	require.NoError(t, err)

	job, err := m.StartJob(doc.ID)
	require.NoError(t, err)
	m.Wait()

	var complete map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "conversion complete" {
			complete = entry
		}
	}
	require.NotNil(t, complete, buf.String())
	assert.Equal(t, "convert", complete["component"])
	assert.Equal(t, logger.ShortID(job.ID), complete["job"])
	assert.Equal(t, logger.ShortID(doc.ID), complete["document"])
}
