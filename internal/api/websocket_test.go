package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/session"
	"github.com/midi-sniffer/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestSessionStreamPushesSummaries(t *testing.T) {
	env := newTestEnv(t)
	table, err := env.tables.Get(env.addTable())
	require.NoError(t, err)

	frames := make(chan models.Frame)
	info, err := env.mgr.Start(session.StartRequest{
		Device: table.Device(),
		Index:  table.Index,
		Source: capture.NewChanSource(frames),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + info.ID + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	connected := readWS(t, ws)
	assert.Equal(t, MsgTypeConnected, connected.Type)
	assert.Equal(t, info.ID, connected.ID)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing, ID: "p1"}))
	pong := readWS(t, ws)
	assert.Equal(t, MsgTypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)

	frames <- testutil.Frame(0, 0x90, 0x0B, 0x7F)
	frames <- testutil.Frame(10, 0x90, 0x0B, 0x7F)
	frames <- testutil.Frame(500, 0x96, 0x46, 0x7F)
	close(frames)

	var got []SummaryMessage
	for {
		msg := readWS(t, ws)
		if msg.Type == MsgTypeComplete {
			var final models.MonitorSession
			require.NoError(t, json.Unmarshal(msg.Payload, &final))
			assert.Equal(t, models.SessionStatusComplete, final.Status)
			assert.Equal(t, int64(2), final.SummariesOut)
			break
		}
		require.Equal(t, MsgTypeSummary, msg.Type)
		var s SummaryMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &s))
		got = append(got, s)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "PlayPause", got[0].Function)
	assert.Equal(t, "900B", got[0].Address)
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, "Cue", got[1].Function)
}

func TestSessionStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/sessions/missing/ws", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
