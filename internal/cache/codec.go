package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zsprackett/tokengauge/internal/usage"
)

// ErrCorrupt means the stored entry could not be decoded. Callers treat it
// like an absent entry.
var ErrCorrupt = errors.New("cache corrupt")

func encodeEntry(e *usage.Entry) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// decodeEntry parses a stored entry. Unknown fields are ignored and missing
// optional fields get their defaults.
func decodeEntry(data []byte) (*usage.Entry, error) {
	var e usage.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if e.SchemaVersion > usage.SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, e.SchemaVersion)
	}
	if e.FetchedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing fetched_at", ErrCorrupt)
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = usage.SchemaVersion
	}
	if e.Providers == nil {
		e.Providers = make(map[usage.ProviderID]usage.Snapshot)
	}
	for id, snap := range e.Providers {
		if snap.FetchStatus == "" {
			snap.FetchStatus = usage.StatusOK
		}
		for w, q := range snap.Windows {
			if q.Window == "" {
				q.Window = w
				snap.Windows[w] = q
			}
		}
		e.Providers[id] = snap
	}
	return &e, nil
}
