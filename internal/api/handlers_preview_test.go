package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qms-portal/docpreview/internal/history"
	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/preview"
	"github.com/qms-portal/docpreview/internal/session"
)

type fakeStats struct {
	stats *history.Stats
	err   error
}

func (f fakeStats) Stats(context.Context) (*history.Stats, error) { return f.stats, f.err }

func TestStartPreviewRendersDocument(t *testing.T) {
	env := newTestEnv(t, okLoader())

	rec := env.doJSON(http.MethodPost, "/api/preview", map[string]string{
		"viewerId": "review-1",
		"url":      "https://blob.example.com/Report.PDF",
		"filename": "Report.PDF",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decodeBody[previewResponse](t, rec)
	assert.Equal(t, "review-1", resp.ViewerID)
	assert.NotZero(t, resp.State.SessionToken)

	state := env.waitForMode(t, "review-1", models.DisplayRendered)
	assert.Equal(t, preview.StrategyDirect, state.Strategy)

	rec = env.do(http.MethodGet, "/api/preview/review-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.PreviewState](t, rec)
	assert.Equal(t, models.DisplayRendered, got.DisplayMode)
	assert.True(t, got.OpenEnabled)

	rec = env.do(http.MethodGet, "/api/preview/review-1/msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var packed models.PreviewState
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	assert.Equal(t, models.DisplayRendered, packed.DisplayMode)
	assert.Equal(t, "https://blob.example.com/Report.PDF", packed.ViewerURL)

	rec = env.do(http.MethodGet, "/api/preview/review-1/open", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://blob.example.com/Report.PDF", rec.Header().Get("Location"))
}

func TestStartPreviewGeneratesViewerID(t *testing.T) {
	env := newTestEnv(t, okLoader())

	rec := env.doJSON(http.MethodPost, "/api/preview", map[string]string{
		"url":      "https://blob.example.com/photo.png",
		"filename": "photo.png",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[previewResponse](t, rec)
	require.NotEmpty(t, resp.ViewerID)

	state := env.waitForMode(t, resp.ViewerID, models.DisplayRendered)
	assert.Equal(t, preview.StrategyImage, state.Strategy)
	assert.Zero(t, state.TimersStarted)
	assert.Empty(t, state.Attempts)
}

func TestOpenExternallyDisabledForDownloadOnly(t *testing.T) {
	env := newTestEnv(t, okLoader())

	rec := env.doJSON(http.MethodPost, "/api/preview", map[string]string{
		"viewerId": "review-1",
		"url":      "https://blob.example.com/archive.zip",
		"filename": "archive.zip",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.waitForMode(t, "review-1", models.DisplayDownloadOnly)

	rec = env.do(http.MethodGet, "/api/preview/review-1/open", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeBody[APIError](t, rec).Code)
}

func TestStartPreviewForRecord(t *testing.T) {
	var loaded []string
	loader := preview.LoaderFunc(func(_ context.Context, target preview.Target) error {
		loaded = append(loaded, target.URL)
		return nil
	})
	env := newTestEnv(t, loader)

	rec := env.doJSON(http.MethodPost, "/api/preview", map[string]string{"viewerId": "v1", "recordId": "DCN-9"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[previewResponse](t, rec)
	assert.Equal(t, models.DisplayPlaceholder, resp.State.DisplayMode)
	assert.Equal(t, session.NoDocumentMessage, resp.State.Message)

	doc, err := env.store.Save("DCN-9", "procedure.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	rec = env.doJSON(http.MethodPost, "/api/preview", map[string]string{"viewerId": "v1", "recordId": "DCN-9"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	state := env.waitForMode(t, "v1", models.DisplayRendered)
	assert.Equal(t, doc.URL, state.DocumentURL)
	assert.Equal(t, []string{doc.URL}, loaded)

	rec = env.doJSON(http.MethodPost, "/api/preview", map[string]string{"recordId": "bad/id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartPreviewValidation(t *testing.T) {
	env := newTestEnv(t, okLoader())

	tests := []struct {
		name string
		body map[string]string
		code string
	}{
		{"empty body", map[string]string{}, "VALIDATION_ERROR"},
		{"url and record", map[string]string{"url": "https://x/a.pdf", "recordId": "DCN-1"}, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(http.MethodPost, "/api/preview", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[APIError](t, rec).Code)
		})
	}
}

func TestUnknownViewer(t *testing.T) {
	env := newTestEnv(t, okLoader())

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/preview/nope"},
		{http.MethodGet, "/api/preview/nope/msgpack"},
		{http.MethodGet, "/api/preview/nope/open"},
		{http.MethodPost, "/api/preview/nope/error"},
		{http.MethodDelete, "/api/preview/nope"},
	} {
		rec := env.do(tc.method, tc.target, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestReportErrorAdvancesToNextViewer(t *testing.T) {
	loader := preview.LoaderFunc(func(ctx context.Context, target preview.Target) error {
		if target.Strategy == preview.StrategyDirect {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	env := newTestEnv(t, loader)

	rec := env.doJSON(http.MethodPost, "/api/preview", map[string]string{
		"viewerId": "review-1",
		"url":      "https://blob.example.com/a.pdf",
		"filename": "a.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		state, _ := env.viewers.Snapshot("review-1")
		return len(state.Attempts) == 1
	}, time.Second, 5*time.Millisecond)

	rec = env.doJSON(http.MethodPost, "/api/preview/review-1/error", map[string]interface{}{"message": "viewer failed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]interface{}](t, rec)["interrupted"])

	state := env.waitForMode(t, "review-1", models.DisplayRendered)
	assert.Equal(t, preview.StrategyGoogleViewer, state.Strategy)
	require.Len(t, state.Attempts, 2)
	assert.Equal(t, models.OutcomePostedError, state.Attempts[0].Outcome)

	// A stale token no longer reaches the session.
	rec = env.doJSON(http.MethodPost, "/api/preview/review-1/error", map[string]interface{}{"token": state.SessionToken + 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody[map[string]interface{}](t, rec)["interrupted"])
}

func TestClosePreview(t *testing.T) {
	env := newTestEnv(t, okLoader())
	env.viewers.Open("review-1")

	rec := env.do(http.MethodDelete, "/api/preview/review-1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := env.viewers.Get("review-1")
	assert.False(t, ok)
}

func TestPreviewStats(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		env := newTestEnv(t, okLoader())
		rec := env.do(http.MethodGet, "/api/preview/stats", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("aggregated", func(t *testing.T) {
		stats := &history.Stats{
			Strategies: []history.StrategyStats{{Strategy: preview.StrategyDirect, Attempts: 4, Loaded: 3, SuccessRate: 0.75}},
			Sessions:   map[string]int64{"rendered": 3, "download-only": 1},
		}
		env := newTestEnv(t, okLoader(), func(d *Dependencies) { d.Stats = fakeStats{stats: stats} })

		rec := env.do(http.MethodGet, "/api/preview/stats", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[history.Stats](t, rec)
		require.Len(t, got.Strategies, 1)
		assert.Equal(t, 0.75, got.Strategies[0].SuccessRate)
		assert.EqualValues(t, 3, got.Sessions["rendered"])
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t, okLoader(), func(d *Dependencies) { d.Stats = fakeStats{err: errors.New("disk gone")} })
		rec := env.do(http.MethodGet, "/api/preview/stats", nil, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
