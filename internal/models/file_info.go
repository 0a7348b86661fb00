package models

import "time"

// FileKind is what an uploaded file holds.
type FileKind string

const (
	FileKindTable   FileKind = "table"
	FileKindCapture FileKind = "capture"
	FileKindProfile FileKind = "profile"
)

// FileInfo represents metadata about an uploaded table, capture or profile.
type FileInfo struct {
	ID         string    `json:"id"`
	Kind       FileKind  `json:"kind"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Device     string    `json:"device,omitempty"`
}
