// handlers_tables.go - Mapping table upload and inspection handlers
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/parser"
	"github.com/midi-sniffer/backend/internal/storage"
)

// recentLimit is the number of files returned by the recent listings.
const recentLimit = 20

// TableHandlerImpl implements the TableHandler interface
type TableHandlerImpl struct {
	store  storage.Store
	tables *TableCatalog
}

// NewTableHandler creates a new table handler instance
func NewTableHandler(store storage.Store, tables *TableCatalog) TableHandler {
	return &TableHandlerImpl{
		store:  store,
		tables: tables,
	}
}

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

// saveUpload binds a base64 JSON upload and stores it as kind.
func saveUpload(c echo.Context, store storage.Store, kind models.FileKind) (*models.FileInfo, error) {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return nil, NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, NewBadRequestError("invalid base64 data", err)
	}

	info, err := store.Save(kind, req.Name, bytes.NewReader(decoded))
	if err != nil {
		return nil, NewInternalError("failed to save file", err)
	}
	return info, nil
}

// TableResponse pairs a stored table file with its load summary.
type TableResponse struct {
	File  *models.FileInfo `json:"file"`
	Table models.TableInfo `json:"table"`
}

// HandleUploadTable stores a mapping table and loads it. Tables that cannot be
// loaded at all are removed again.
func (h *TableHandlerImpl) HandleUploadTable(c echo.Context) error {
	info, err := saveUpload(c, h.store, models.FileKindTable)
	if err != nil {
		return err
	}

	t, err := h.tables.Load(info.ID)
	if err != nil {
		h.store.Delete(info.ID)
		return NewUnprocessableError("invalid mapping table", err)
	}
	h.store.SetDevice(info.ID, t.Device())

	tableInfo := t.Info()
	tableInfo.ID = info.ID
	return c.JSON(http.StatusCreated, TableResponse{File: info, Table: tableInfo})
}

// HandleRecentTables returns the most recently uploaded tables
func (h *TableHandlerImpl) HandleRecentTables(c echo.Context) error {
	files, err := h.store.List(models.FileKindTable, queryInt(c, "limit", recentLimit))
	if err != nil {
		return NewInternalError("failed to list tables", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetTable returns identity, headers, row counts, diagnostics and conflicts of a table
func (h *TableHandlerImpl) HandleGetTable(c echo.Context) error {
	id := c.Param("id")
	t, err := h.table(id)
	if err != nil {
		return err
	}

	info := t.Info()
	info.ID = id
	return c.JSON(http.StatusOK, info)
}

// ResolveResponse is the lookup result for one address.
type ResolveResponse struct {
	Address  string                  `json:"address"`
	Key      models.MessageKey       `json:"key"`
	Message  string                  `json:"message"`
	Found    bool                    `json:"found"`
	HiRes    bool                    `json:"hiRes"`
	Resolved *models.ResolvedMapping `json:"resolved,omitempty"`
}

// HandleResolve looks up a four-hex-digit address ("900B") in a table's index
func (h *TableHandlerImpl) HandleResolve(c echo.Context) error {
	address := c.QueryParam("address")
	if address == "" {
		return NewValidationError("address")
	}

	t, err := h.table(c.Param("id"))
	if err != nil {
		return err
	}

	addr, err := parser.ParseAddress(address)
	if err != nil {
		return NewBadRequestError("invalid address", err)
	}

	key := addr.Key()
	resp := ResolveResponse{
		Address: key.Hex(),
		Key:     key,
		Message: key.String(),
	}
	if m, ok := t.Index.Resolve(key); ok {
		resp.Found = true
		resp.Resolved = m
		resp.HiRes = t.Index.IsHiRes(m)
	}
	return c.JSON(http.StatusOK, resp)
}

// ColumnsResponse lists a table's headers and the selected columns of its functional rows.
type ColumnsResponse struct {
	Headers  []string            `json:"headers"`
	Selected []string            `json:"selected"`
	Rows     []map[string]string `json:"rows"`
	Warnings []string            `json:"warnings,omitempty"`
}

// HandleColumns projects functional rows onto ?select=0,function,5. Without a
// selection only the headers are returned.
func (h *TableHandlerImpl) HandleColumns(c echo.Context) error {
	t, err := h.table(c.Param("id"))
	if err != nil {
		return err
	}

	resp := ColumnsResponse{
		Headers:  t.Headers,
		Selected: []string{},
		Rows:     []map[string]string{},
	}

	sel := c.QueryParam("select")
	if sel == "" {
		return c.JSON(http.StatusOK, resp)
	}

	cols, warnings := t.Columns(sel)
	resp.Warnings = warnings
	for _, col := range cols {
		resp.Selected = append(resp.Selected, t.Headers[col])
	}
	if len(cols) == 0 {
		return c.JSON(http.StatusOK, resp)
	}

	for _, row := range t.Rows {
		if row.Kind != models.RowFunctional {
			continue
		}
		if fields := t.Project(row.Line, cols); fields != nil {
			resp.Rows = append(resp.Rows, fields)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDeleteTable removes a stored table and drops it from the catalog
func (h *TableHandlerImpl) HandleDeleteTable(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if err := h.store.Delete(id); err != nil {
		return fromDomainError("table", id, err)
	}
	h.tables.Remove(id)
	return c.NoContent(http.StatusNoContent)
}

func (h *TableHandlerImpl) table(id string) (*parser.Table, error) {
	if id == "" {
		return nil, NewValidationError("id")
	}
	t, err := h.tables.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, NewNotFoundError("table", id)
		}
		return nil, fromDomainError("table", id, err)
	}
	return t, nil
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
