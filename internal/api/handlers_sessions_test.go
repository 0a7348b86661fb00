// handlers_sessions_test.go - Tests for monitoring session handlers
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/session"
	"github.com/midi-sniffer/backend/internal/storage"
	"github.com/midi-sniffer/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// MockSessionManager is a mock implementation for testing
type MockSessionManager struct {
	startErr error
	sessions map[string]models.MonitorSession
	recent   map[string]*session.Recent
	stopped  []string
}

func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{
		sessions: make(map[string]models.MonitorSession),
		recent:   make(map[string]*session.Recent),
	}
}

func (m *MockSessionManager) Start(req session.StartRequest) (*models.MonitorSession, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	info := models.NewMonitorSession("test-session-123", req.TableID)
	info.Device = req.Device
	info.Status = models.SessionStatusRunning
	m.sessions[info.ID] = *info
	m.recent[info.ID] = session.NewRecent(10)
	req.Source.Close()
	return info, nil
}

func (m *MockSessionManager) Get(id string) (models.MonitorSession, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

func (m *MockSessionManager) List() []models.MonitorSession {
	out := make([]models.MonitorSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *MockSessionManager) Recent(id string) (*session.Recent, bool) {
	r, ok := m.recent[id]
	return r, ok
}

func (m *MockSessionManager) TouchSession(id string) bool {
	_, ok := m.sessions[id]
	return ok
}

func (m *MockSessionManager) Stop(ctx context.Context, id string) error {
	s, ok := m.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.Status = models.SessionStatusStopped
	m.sessions[id] = s
	m.stopped = append(m.stopped, id)
	return nil
}

// startReplay starts a session over the sample capture and waits for it to finish.
func (env *testEnv) startReplay(t *testing.T, body map[string]interface{}) models.MonitorSession {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info models.MonitorSession
	decodeBody(t, rec, &info)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.mgr.Wait(ctx, info.ID))
	return info
}

func TestHandleStartSessionReplaysCapture(t *testing.T) {
	env := newTestEnv(t)
	tableID := env.addTable()
	captureID := env.addCapture()

	info := env.startReplay(t, map[string]interface{}{
		"tableId":   tableID,
		"captureId": captureID,
		"speed":     0,
	})
	assert.Equal(t, tableID, info.TableID)
	assert.Equal(t, "DDJ-TEST", info.Device)
	assert.Equal(t, "session.log", info.Source)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.MonitorSession
	decodeBody(t, rec, &got)
	assert.Equal(t, models.SessionStatusComplete, got.Status)
	assert.Equal(t, int64(3), got.FramesRead)
	assert.Equal(t, int64(2), got.SummariesOut)

	rec = env.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.MonitorSession
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)
}

func TestHandleStartSessionMatchesTableByDevice(t *testing.T) {
	env := newTestEnv(t)
	tableID := env.addTable()
	_, err := env.tables.Get(tableID)
	require.NoError(t, err)
	captureID := env.addCapture()

	info := env.startReplay(t, map[string]interface{}{"captureId": captureID})
	assert.Equal(t, tableID, info.TableID)
}

func TestHandleStartSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		addTable   bool
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{"missing capture id", `{"tableId":"table-1"}`, true, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative speed", `{"tableId":"table-1","captureId":"capture-1","speed":-1}`, true, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown capture", `{"tableId":"table-1","captureId":"nope"}`, true, nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown table", `{"tableId":"nope","captureId":"capture-1"}`, true, nil, http.StatusNotFound, "NOT_FOUND"},
		{"no table matches device", `{"captureId":"capture-1"}`, false, nil, http.StatusNotFound, "NOT_FOUND"},
		{"session limit", `{"tableId":"table-1","captureId":"capture-1"}`, true, session.ErrTooManySessions, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			if tt.addTable {
				store.AddFile("table-1", models.FileKindTable, "DDJ-TEST.midi.csv", []byte(testutil.SampleTable))
			}
			store.AddFile("capture-1", models.FileKindCapture, "session.log", []byte(testutil.SampleLog))

			mgr := NewMockSessionManager()
			mgr.startErr = tt.startErr
			tables := NewTableCatalog(store, nil, nil, nil)
			h := NewSessionHandler(store, mgr, tables, nil, nil, 1)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.HandleStartSession(c)
			require.Error(t, err)
			apiErr, ok := err.(*APIError)
			require.True(t, ok, "expected *APIError, got %T", err)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestHandleSessionSummaries(t *testing.T) {
	env := newTestEnv(t)
	info := env.startReplay(t, map[string]interface{}{
		"tableId":   env.addTable(),
		"captureId": env.addCapture(),
	})

	rec := env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SummariesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "recent", resp.Source)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "PlayPause", resp.Summaries[0].Function())
	assert.Equal(t, 2, resp.Summaries[0].Count)
	assert.Equal(t, "Cue", resp.Summaries[1].Function())

	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries?function=Cue", nil)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, "Cue", resp.Summaries[0].Function())

	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries?limit=1", nil)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, "Cue", resp.Summaries[0].Function())

	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries?source=store", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/missing/summaries", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionSummariesMsgpack(t *testing.T) {
	env := newTestEnv(t)
	info := env.startReplay(t, map[string]interface{}{
		"tableId":   env.addTable(),
		"captureId": env.addCapture(),
	})

	rec := env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries/msgpack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var resp SummariesResponse
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, info.ID, resp.SessionID)
	require.Len(t, resp.Summaries, 2)
	assert.Equal(t, "PlayPause", resp.Summaries[0].Resolved.Function)
}

func TestHandleSessionFunctions(t *testing.T) {
	env := newTestEnv(t)
	info := env.startReplay(t, map[string]interface{}{
		"tableId":   env.addTable(),
		"captureId": env.addCapture(),
	})

	rec := env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/functions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var counts []storage.FunctionCount
	decodeBody(t, rec, &counts)
	assert.Equal(t, []storage.FunctionCount{
		{Function: "PlayPause", Summaries: 1, Events: 2},
		{Function: "Cue", Summaries: 1, Events: 1},
	}, counts)
}

func TestHandleSessionsWithSummaryStore(t *testing.T) {
	events, err := storage.NewEventStore("", nil)
	require.NoError(t, err)
	defer events.Close()

	store := testutil.NewMockStorage(t.TempDir())
	store.AddFile("table-1", models.FileKindTable, "DDJ-TEST.midi.csv", []byte(testutil.SampleTable))
	store.AddFile("capture-1", models.FileKindCapture, "session.log", []byte(testutil.SampleLog))
	mgr := session.NewManager(session.ManagerConfig{
		Session: session.Options{SweepInterval: time.Hour},
		Events:  events,
	})

	h := NewHandlers(&Dependencies{
		Store:      store,
		SessionMgr: mgr,
		Tables:     NewTableCatalog(store, nil, nil, nil),
		Summaries:  events,
	})
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	RegisterRoutes(e, h)
	env := &testEnv{store: store, mgr: mgr, handlers: h, e: e}

	info := env.startReplay(t, map[string]interface{}{"tableId": "table-1", "captureId": "capture-1"})

	rec := env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/summaries?source=store&function=PlayPause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SummariesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "store", resp.Source)
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, 2, resp.Summaries[0].Count)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+info.ID+"/functions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var counts []storage.FunctionCount
	decodeBody(t, rec, &counts)
	require.Len(t, counts, 2)
	assert.Equal(t, "PlayPause", counts[0].Function)
	assert.Equal(t, 2, counts[0].Events)
}

func TestHandleStopSession(t *testing.T) {
	mgr := NewMockSessionManager()
	mgr.sessions["s1"] = models.MonitorSession{ID: "s1", Status: models.SessionStatusRunning}
	mgr.recent["s1"] = session.NewRecent(10)
	h := NewSessionHandler(nil, mgr, nil, nil, nil, 1)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("s1")

	require.NoError(t, h.HandleStopSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s1"}, mgr.stopped)
	assert.Contains(t, rec.Body.String(), `"status":"stopped"`)

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/nope", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.HandleStopSession(c)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestHandleSessionKeepAlive(t *testing.T) {
	env := newTestEnv(t)
	info := env.startReplay(t, map[string]interface{}{
		"tableId":   env.addTable(),
		"captureId": env.addCapture(),
	})

	rec := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/keepalive", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions/missing/keepalive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
