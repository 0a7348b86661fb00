// handlers_captures_test.go - Tests for capture upload handlers
package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleUploadCapture(t *testing.T) {
	var recording bytes.Buffer
	w, err := capture.NewRecordingWriter(&recording, capture.RecordingHeader{Device: "DDJ-REC"})
	require.NoError(t, err)
	require.NoError(t, w.Record(testutil.Frame(0, 0x90, 0x0B, 0x7F)))
	require.NoError(t, w.Close())

	tests := []struct {
		name       string
		data       string
		wantStatus int
		wantFormat string
		wantDevice string
	}{
		{"text log", testutil.SampleLog, http.StatusCreated, "textlog", "DDJ-TEST"},
		{"binary recording", recording.String(), http.StatusCreated, "recording", "DDJ-REC"},
		{"unknown format", "just some notes\nnothing to replay\n", http.StatusUnprocessableEntity, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/captures", upload("capture.bin", tt.data))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusCreated {
				assert.Equal(t, 0, env.store.GetFileCount())
				return
			}

			var resp CaptureResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.wantFormat, resp.Format)
			assert.Equal(t, tt.wantDevice, resp.Device)
			assert.Equal(t, models.FileKindCapture, resp.File.Kind)

			stored, err := env.store.Get(resp.File.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, stored.Device)
		})
	}
}

func TestHandleRecentCaptures(t *testing.T) {
	env := newTestEnv(t)
	env.addTable()
	env.addCapture()

	rec := env.do(t, http.MethodGet, "/api/captures/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var files []models.FileInfo
	decodeBody(t, rec, &files)
	require.Len(t, files, 1)
	assert.Equal(t, "capture-1", files[0].ID)
}
