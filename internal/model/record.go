package model

import (
	"time"

	"github.com/google/uuid"
)

type RecordState string

const (
	StatePending  RecordState = "pending"
	StateArchived RecordState = "archived"
)

// AccessRecord is one served request as kept by the access journal.
type AccessRecord struct {
	ID         uuid.UUID     `json:"id"`
	RequestID  string        `json:"request_id,omitempty"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Route      string        `json:"route"`
	Status     int           `json:"status"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Aborted    bool          `json:"aborted,omitempty"`
	State      RecordState   `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	ArchivedAt *time.Time    `json:"archived_at,omitempty"`
}

// NewAccessRecord creates a pending record for a request that was just served.
func NewAccessRecord(method, path, route string, status int) AccessRecord {
	return AccessRecord{
		ID:        uuid.New(),
		Method:    method,
		Path:      path,
		Route:     route,
		Status:    status,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}
