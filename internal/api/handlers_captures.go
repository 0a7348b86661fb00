// handlers_captures.go - Capture file upload handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/storage"
)

// CaptureHandlerImpl implements the CaptureHandler interface
type CaptureHandlerImpl struct {
	store    storage.Store
	registry *capture.Registry
}

// NewCaptureHandler creates a new capture handler instance
func NewCaptureHandler(store storage.Store, registry *capture.Registry) CaptureHandler {
	if registry == nil {
		registry = capture.NewRegistry()
	}
	return &CaptureHandlerImpl{
		store:    store,
		registry: registry,
	}
}

// CaptureResponse describes a stored capture and the format detected for it.
type CaptureResponse struct {
	File   *models.FileInfo `json:"file"`
	Format string           `json:"format"`
	Device string           `json:"device,omitempty"`
}

// HandleUploadCapture stores a text log or binary recording. Files of an
// unknown format are removed again.
func (h *CaptureHandlerImpl) HandleUploadCapture(c echo.Context) error {
	info, err := saveUpload(c, h.store, models.FileKindCapture)
	if err != nil {
		return err
	}

	path, err := h.store.GetFilePath(info.ID)
	if err != nil {
		return NewInternalError("stored capture missing", err)
	}

	format, err := h.registry.FindFormat(path)
	if err != nil {
		h.store.Delete(info.ID)
		return fromDomainError("capture", info.ID, err)
	}
	src, err := format.Open(path)
	if err != nil {
		h.store.Delete(info.ID)
		return NewUnprocessableError("unreadable capture", err)
	}
	defer src.Close()

	resp := CaptureResponse{File: info, Format: format.Name()}
	if named, ok := src.(capture.DeviceNamer); ok {
		resp.Device = named.Device()
		h.store.SetDevice(info.ID, resp.Device)
	}
	return c.JSON(http.StatusCreated, resp)
}

// HandleRecentCaptures returns the most recently uploaded captures
func (h *CaptureHandlerImpl) HandleRecentCaptures(c echo.Context) error {
	files, err := h.store.List(models.FileKindCapture, queryInt(c, "limit", recentLimit))
	if err != nil {
		return NewInternalError("failed to list captures", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}
