package api

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qms-portal/docpreview/internal/storage"
)

func TestFileHandler_HandleServeFile(t *testing.T) {
	env := newTestEnv(t, okLoader())
	doc, err := env.store.Save("DCN-1", "Work Instruction.pdf", strings.NewReader("%PDF-1.7 body"))
	require.NoError(t, err)
	target := "/files/" + url.PathEscape(doc.Name)

	t.Run("get", func(t *testing.T) {
		rec := env.do(http.MethodGet, target, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "%PDF-1.7 body", rec.Body.String())
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "Work Instruction.pdf")
	})

	t.Run("head", func(t *testing.T) {
		rec := env.do(http.MethodHead, target, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "13", rec.Header().Get("Content-Length"))
		assert.Empty(t, rec.Body.String())
	})

	t.Run("unknown name", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/files/missing.pdf", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = env.do(http.MethodHead, "/files/missing.pdf", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestFileHandler_RequireSignedURLs(t *testing.T) {
	env := newTestEnv(t, okLoader(), func(d *Dependencies) { d.RequireSignedURLs = true })
	doc, err := env.store.Save("DCN-1", "a.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	target := "/files/" + url.PathEscape(doc.Name) + "?expires=1&sig=00"

	env.store.SignatureErr = storage.ErrSignatureExpired
	rec := env.do(http.MethodGet, target, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeBody[APIError](t, rec).Code)

	env.store.SignatureErr = nil
	rec = env.do(http.MethodGet, target, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
