// handlers_sessions.go - Monitoring session handlers
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/parser"
	"github.com/midi-sniffer/backend/internal/session"
	"github.com/midi-sniffer/backend/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultSummaryLimit = 200
	maxSummaryLimit     = 10000
	stopTimeout         = 10 * time.Second
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	store        storage.Store
	sessionMgr   SessionManager
	tables       *TableCatalog
	registry     *capture.Registry
	summaries    SummaryStore
	defaultSpeed float64
}

// NewSessionHandler creates a new session handler instance. summaries may be
// nil when summary recording is disabled.
func NewSessionHandler(store storage.Store, sessionMgr SessionManager, tables *TableCatalog,
	registry *capture.Registry, summaries SummaryStore, defaultSpeed float64) SessionHandler {
	if registry == nil {
		registry = capture.NewRegistry()
	}
	return &SessionHandlerImpl{
		store:        store,
		sessionMgr:   sessionMgr,
		tables:       tables,
		registry:     registry,
		summaries:    summaries,
		defaultSpeed: defaultSpeed,
	}
}

type startSessionRequest struct {
	TableID   string   `json:"tableId"`
	CaptureID string   `json:"captureId"`
	Speed     *float64 `json:"speed,omitempty"`
}

func (r *startSessionRequest) validate() error {
	if r.CaptureID == "" {
		return NewValidationError("captureId")
	}
	if r.Speed != nil && *r.Speed < 0 {
		return NewValidationError("speed")
	}
	return nil
}

// HandleStartSession replays a stored capture through a stored table. Without
// a tableId the table is matched against the device named in the capture header.
func (h *SessionHandlerImpl) HandleStartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	file, err := h.store.Get(req.CaptureID)
	if err != nil {
		return fromDomainError("capture", req.CaptureID, err)
	}
	path, err := h.store.GetFilePath(req.CaptureID)
	if err != nil {
		return fromDomainError("capture", req.CaptureID, err)
	}

	src, err := h.registry.Open(path)
	if err != nil {
		return fromDomainError("capture", req.CaptureID, err)
	}

	tableID, table, err := h.pickTable(req.TableID, src)
	if err != nil {
		src.Close()
		return err
	}

	speed := h.defaultSpeed
	if req.Speed != nil {
		speed = *req.Speed
	}

	info, err := h.sessionMgr.Start(session.StartRequest{
		TableID:    tableID,
		Device:     table.Device(),
		SourceName: file.Name,
		Index:      table.Index,
		Source:     capture.NewPacer(src, speed),
	})
	if err != nil {
		src.Close()
		return fromDomainError("session", "", err)
	}
	return c.JSON(http.StatusCreated, info)
}

func (h *SessionHandlerImpl) pickTable(id string, src capture.Source) (string, *parser.Table, error) {
	if id != "" {
		t, err := h.tables.Get(id)
		if err != nil {
			return "", nil, fromDomainError("table", id, err)
		}
		return id, t, nil
	}

	named, ok := src.(capture.DeviceNamer)
	if !ok || named.Device() == "" {
		return "", nil, NewValidationError("tableId")
	}
	matchID, t := h.tables.Match(named.Device())
	if t == nil {
		return "", nil, NewNotFoundError("table for device", named.Device())
	}
	return matchID, t, nil
}

// HandleListSessions returns all tracked sessions, newest first
func (h *SessionHandlerImpl) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessionMgr.List())
}

// HandleGetSession returns the status and counters of a session
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	info, ok := h.sessionMgr.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	h.sessionMgr.TouchSession(id)
	return c.JSON(http.StatusOK, info)
}

// SummariesResponse is a page of a session's summaries, oldest first.
type SummariesResponse struct {
	SessionID string           `json:"sessionId" msgpack:"session_id"`
	Source    string           `json:"source" msgpack:"source"`
	Total     int              `json:"total" msgpack:"total"`
	Summaries []models.Summary `json:"summaries" msgpack:"summaries"`
}

// HandleSessionSummaries returns the newest summaries of a session as JSON.
// ?function= filters by function, ?limit= caps the count and ?source=store
// reads from the summary database instead of the in-memory ring.
func (h *SessionHandlerImpl) HandleSessionSummaries(c echo.Context) error {
	resp, err := h.summariesFor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSessionSummariesMsgpack returns the same payload in MessagePack format
func (h *SessionHandlerImpl) HandleSessionSummariesMsgpack(c echo.Context) error {
	resp, err := h.summariesFor(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *SessionHandlerImpl) summariesFor(c echo.Context) (*SummariesResponse, error) {
	id := c.Param("id")
	recent, ok := h.sessionMgr.Recent(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	h.sessionMgr.TouchSession(id)

	function := c.QueryParam("function")
	limit := queryInt(c, "limit", defaultSummaryLimit)
	if limit == 0 || limit > maxSummaryLimit {
		limit = maxSummaryLimit
	}

	resp := &SummariesResponse{SessionID: id, Source: "recent"}
	if c.QueryParam("source") == "store" {
		if h.summaries == nil {
			return nil, NewServiceUnavailableError("summary recording is disabled")
		}
		list, err := h.summaries.Query(c.Request().Context(), id, function, limit)
		if err != nil {
			return nil, NewInternalError("summary query failed", err)
		}
		resp.Source = "store"
		resp.Summaries = list
	} else {
		resp.Summaries = recent.Snapshot(function, limit)
	}

	if resp.Summaries == nil {
		resp.Summaries = []models.Summary{}
	}
	resp.Total = len(resp.Summaries)
	return resp, nil
}

// HandleSessionFunctions totals a session's summaries per function. Recorded
// sessions are counted in the summary database, others from the recent ring.
func (h *SessionHandlerImpl) HandleSessionFunctions(c echo.Context) error {
	id := c.Param("id")
	recent, ok := h.sessionMgr.Recent(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	if h.summaries != nil {
		counts, err := h.summaries.FunctionCounts(c.Request().Context(), id)
		if err != nil {
			return NewInternalError("function count query failed", err)
		}
		if counts == nil {
			counts = []storage.FunctionCount{}
		}
		return c.JSON(http.StatusOK, counts)
	}
	return c.JSON(http.StatusOK, countFunctions(recent.Snapshot("", 0)))
}

func countFunctions(summaries []models.Summary) []storage.FunctionCount {
	byFunction := make(map[string]*storage.FunctionCount)
	for _, s := range summaries {
		fc, ok := byFunction[s.Function()]
		if !ok {
			fc = &storage.FunctionCount{Function: s.Function()}
			byFunction[s.Function()] = fc
		}
		fc.Summaries++
		fc.Events += s.Count
	}

	out := make([]storage.FunctionCount, 0, len(byFunction))
	for _, fc := range byFunction {
		out = append(out, *fc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].Function < out[j].Function
	})
	return out
}

// HandleSessionKeepAlive keeps a finished session from being cleaned up
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessionMgr.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleStopSession cancels a session and waits for its final flush
func (h *SessionHandlerImpl) HandleStopSession(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), stopTimeout)
	defer cancel()

	if err := h.sessionMgr.Stop(ctx, id); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewServiceUnavailableError("session did not stop in time")
		}
		return fromDomainError("session", id, err)
	}

	info, ok := h.sessionMgr.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, info)
}
