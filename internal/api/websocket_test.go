package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qms-portal/docpreview/internal/models"
	"github.com/qms-portal/docpreview/internal/preview"
	"github.com/qms-portal/docpreview/internal/session"
)

func dialPreview(t *testing.T, env *testEnv, viewerID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/preview?viewer=" + viewerID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, match func(WSMessage) bool) WSMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(WSMessage) bool {
	return func(m WSMessage) bool { return m.Type == typ }
}

func stateWithMode(mode models.DisplayMode) func(WSMessage) bool {
	return func(m WSMessage) bool {
		if m.Type != MsgTypeState {
			return false
		}
		var st models.PreviewState
		return json.Unmarshal(m.Payload, &st) == nil && st.DisplayMode == mode
	}
}

func send(t *testing.T, ws *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(WSMessage{Type: typ, Payload: mustJSON(payload)}))
}

func frameLoad(t *testing.T, msg WSMessage) session.FrameLoad {
	t.Helper()
	var load session.FrameLoad
	require.NoError(t, json.Unmarshal(msg.Payload, &load))
	return load
}

func TestWebSocketFrameDrivesPreview(t *testing.T) {
	env := newTestEnv(t, okLoader())
	ws := dialPreview(t, env, "review-1")

	connected := readUntil(t, ws, ofType(MsgTypeConnected))
	assert.Equal(t, "review-1", connected.ID)
	readUntil(t, ws, stateWithMode(models.DisplayIdle))

	send(t, ws, MsgTypePreviewOpen, PreviewOpenPayload{
		URL:      "https://blob.example.com/a.pdf",
		Filename: "a.pdf",
	})

	load := frameLoad(t, readUntil(t, ws, ofType(MsgTypeFrameLoad)))
	assert.Equal(t, preview.StrategyDirect, load.Strategy)
	assert.Equal(t, "https://blob.example.com/a.pdf", load.URL)
	assert.Equal(t, int64(2000), load.TimeoutMs)

	send(t, ws, MsgTypeFrameError, FrameSignalPayload{Seq: load.Seq, Message: "frame error event"})

	next := frameLoad(t, readUntil(t, ws, ofType(MsgTypeFrameLoad)))
	assert.Equal(t, preview.StrategyGoogleViewer, next.Strategy)
	assert.Greater(t, next.Seq, load.Seq)

	// A late answer to the first load is ignored.
	send(t, ws, MsgTypeFrameLoaded, FrameSignalPayload{Seq: load.Seq})
	send(t, ws, MsgTypeFrameLoaded, FrameSignalPayload{Seq: next.Seq})

	msg := readUntil(t, ws, stateWithMode(models.DisplayRendered))
	var state models.PreviewState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, preview.StrategyGoogleViewer, state.Strategy)
	require.Len(t, state.Attempts, 2)
	assert.Equal(t, models.OutcomeError, state.Attempts[0].Outcome)
	assert.Equal(t, models.OutcomeLoaded, state.Attempts[1].Outcome)
}

func TestWebSocketPostedError(t *testing.T) {
	env := newTestEnv(t, okLoader())
	ws := dialPreview(t, env, "review-2")
	readUntil(t, ws, ofType(MsgTypeConnected))

	send(t, ws, MsgTypePreviewOpen, PreviewOpenPayload{
		URL:      "https://blob.example.com/sheet.xlsx",
		Filename: "sheet.xlsx",
	})
	first := frameLoad(t, readUntil(t, ws, ofType(MsgTypeFrameLoad)))
	assert.Equal(t, preview.StrategyOfficeOnline, first.Strategy)

	send(t, ws, MsgTypeFramePostedError, PostedErrorPayload{Message: "Sorry, this file cannot be opened"})

	second := frameLoad(t, readUntil(t, ws, ofType(MsgTypeFrameLoad)))
	assert.Equal(t, preview.StrategyGoogleViewer, second.Strategy)

	state, ok := env.viewers.Snapshot("review-2")
	require.True(t, ok)
	require.NotEmpty(t, state.Attempts)
	assert.Equal(t, models.OutcomePostedError, state.Attempts[0].Outcome)
}

func TestWebSocketDetachFallsBackToHeadless(t *testing.T) {
	env := newTestEnv(t, okLoader())
	ws := dialPreview(t, env, "review-3")
	readUntil(t, ws, ofType(MsgTypeConnected))

	send(t, ws, MsgTypePreviewOpen, PreviewOpenPayload{
		URL:      "https://blob.example.com/a.pdf",
		Filename: "a.pdf",
	})
	readUntil(t, ws, ofType(MsgTypeFrameLoad))
	require.NoError(t, ws.Close())

	// The waiting attempt fails on detach; the next one loads headlessly.
	state := env.waitForMode(t, "review-3", models.DisplayRendered)
	assert.Equal(t, preview.StrategyGoogleViewer, state.Strategy)

	v, ok := env.viewers.Get("review-3")
	require.True(t, ok)
	assert.False(t, v.FrameAttached())
}

func TestWebSocketProtocolMessages(t *testing.T) {
	env := newTestEnv(t, okLoader())
	ws := dialPreview(t, env, "")

	connected := readUntil(t, ws, ofType(MsgTypeConnected))
	assert.NotEmpty(t, connected.ID, "a viewer id is assigned")

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	readUntil(t, ws, ofType(MsgTypePong))

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "bogus"}))
	msg := readUntil(t, ws, ofType(MsgTypeError))
	var errResp WSErrorResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &errResp))
	assert.Equal(t, "INVALID_TYPE", errResp.Code)

	send(t, ws, MsgTypePreviewOpen, PreviewOpenPayload{})
	msg = readUntil(t, ws, ofType(MsgTypeError))
	require.NoError(t, json.Unmarshal(msg.Payload, &errResp))
	assert.Equal(t, "INVALID_PAYLOAD", errResp.Code)

	send(t, ws, MsgTypePreviewOpen, PreviewOpenPayload{RecordID: "DCN-404"})
	msg = readUntil(t, ws, stateWithMode(models.DisplayPlaceholder))
	var state models.PreviewState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, session.NoDocumentMessage, state.Message)
}
