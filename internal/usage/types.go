package usage

import (
	"fmt"
	"time"
)

// SchemaVersion is the version written into every cache entry.
const SchemaVersion = 1

// ProviderID identifies one usage-quota source, e.g. "codex" or "claude".
type ProviderID string

type Window string

const (
	Daily  Window = "daily"
	Weekly Window = "weekly"
)

func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case Daily, Weekly:
		return Window(s), nil
	case "":
		return Daily, nil
	default:
		return "", fmt.Errorf("unknown window %q (want daily or weekly)", s)
	}
}

type FetchStatus string

const (
	StatusOK            FetchStatus = "ok"
	StatusAuthError     FetchStatus = "auth_error"
	StatusNetworkError  FetchStatus = "network_error"
	StatusParseError    FetchStatus = "parse_error"
	StatusNotConfigured FetchStatus = "not_configured"
)

// Degraded reports whether the last fetch for a provider failed.
func (s FetchStatus) Degraded() bool {
	return s != StatusOK && s != ""
}

// Quota holds the figures of one reporting window.
type Quota struct {
	Window           Window    `json:"window"`
	Used             float64   `json:"used"`
	Limit            *float64  `json:"limit,omitempty"` // nil = unbounded
	ResetAt          time.Time `json:"reset_at,omitzero"`
	ResetDescription string    `json:"reset_description,omitempty"`
	WindowMinutes    int       `json:"window_minutes,omitempty"`
}

// Snapshot is the most recently known usage of one provider.
type Snapshot struct {
	Windows     map[Window]Quota `json:"windows,omitempty"`
	FetchStatus FetchStatus      `json:"fetch_status"`
	Error       string           `json:"error,omitempty"`
	Source      string           `json:"source,omitempty"`
	Version     string           `json:"version,omitempty"`
	Credits     *float64         `json:"credits,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at,omitzero"`
	// StaleSince is when carried-forward windows were last fetched
	// successfully. Zero for fresh data.
	StaleSince time.Time `json:"stale_since,omitzero"`
}

func (s Snapshot) Quota(w Window) (Quota, bool) {
	q, ok := s.Windows[w]
	return q, ok
}

func (s Snapshot) HasData() bool {
	return len(s.Windows) > 0
}

// Entry is the full persisted set of snapshots. Exactly one exists at a time.
type Entry struct {
	SchemaVersion int                     `json:"schema_version"`
	FetchedAt     time.Time               `json:"fetched_at"`
	Order         []ProviderID            `json:"order,omitempty"`
	Providers     map[ProviderID]Snapshot `json:"providers"`
}

func NewEntry(fetchedAt time.Time) *Entry {
	return &Entry{
		SchemaVersion: SchemaVersion,
		FetchedAt:     fetchedAt,
		Providers:     make(map[ProviderID]Snapshot),
	}
}

// Snapshot returns the snapshot for id. A nil entry has no snapshots.
func (e *Entry) Snapshot(id ProviderID) (Snapshot, bool) {
	if e == nil {
		return Snapshot{}, false
	}
	s, ok := e.Providers[id]
	return s, ok
}

// Ptr is a helper to create pointer to a value
func Ptr[T any](v T) *T {
	return &v
}
