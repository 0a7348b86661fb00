package models

// SessionStatus represents the status of a monitoring session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusError    SessionStatus = "error"
)

// Finished reports whether the session has left the running state.
func (s SessionStatus) Finished() bool {
	return s == SessionStatusComplete || s == SessionStatusStopped || s == SessionStatusError
}

// MonitorSession is the externally visible state of one monitoring session.
type MonitorSession struct {
	ID            string        `json:"id"`
	TableID       string        `json:"tableId,omitempty"`
	Device        string        `json:"device,omitempty"`
	Source        string        `json:"source,omitempty"`
	Status        SessionStatus `json:"status"`
	FramesRead    int64         `json:"framesRead"`
	FramesInvalid int64         `json:"framesInvalid"`
	Unresolved    int64         `json:"unresolved"`
	SummariesOut  int64         `json:"summariesOut"`
	StartTime     int64         `json:"startTime,omitempty"` // Unix ms
	EndTime       int64         `json:"endTime,omitempty"`   // Unix ms
	Error         string        `json:"error,omitempty"`
}

// NewMonitorSession creates a session in pending status.
func NewMonitorSession(id, tableID string) *MonitorSession {
	return &MonitorSession{
		ID:      id,
		TableID: tableID,
		Status:  SessionStatusPending,
	}
}
