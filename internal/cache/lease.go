package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseHeld is returned by Acquire while another holder refreshes.
var ErrLeaseHeld = errors.New("refresh lease held")

// Marker is the refresh-in-progress record stored under LockName.
type Marker struct {
	Holder          string    `json:"holder"`
	RefreshingSince time.Time `json:"refreshing_since"`
}

// Lease is a best-effort cross-process refresh lock. A marker older than
// staleAfter is treated as abandoned and overridden.
type Lease struct {
	backend    Backend
	holder     string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewHolderID returns an identifier unique to this process and call.
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

func NewLease(backend Backend, holder string, staleAfter time.Duration, logger *slog.Logger) *Lease {
	if holder == "" {
		holder = NewHolderID()
	}
	return &Lease{
		backend:    backend,
		holder:     holder,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger,
	}
}

func (l *Lease) Holder() string {
	return l.holder
}

// Current returns the marker currently stored, or ErrNotExist.
func (l *Lease) Current() (*Marker, error) {
	data, err := l.backend.Read(LockName)
	if err != nil {
		return nil, err
	}
	m, err := decodeMarker(data)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Acquire writes a marker naming this holder. It returns ErrLeaseHeld when
// a live marker of another holder exists.
func (l *Lease) Acquire() error {
	data, err := l.backend.Read(LockName)
	switch {
	case errors.Is(err, ErrNotExist):
	case err != nil:
		return fmt.Errorf("read refresh marker: %w", err)
	default:
		m, derr := decodeMarker(data)
		if derr == nil && m.Holder != l.holder {
			age := l.now().Sub(m.RefreshingSince)
			if age < l.staleAfter {
				return fmt.Errorf("%w by %s for %s", ErrLeaseHeld, m.Holder, age.Round(time.Second))
			}
			l.logger.Warn("overriding abandoned refresh marker", "holder", m.Holder, "age", age.Round(time.Second))
		} else if derr != nil {
			l.logger.Warn("overriding unreadable refresh marker", "err", derr)
		}
		if err := l.removeIfUnchanged(data); err != nil {
			return err
		}
	}

	data, err = json.Marshal(Marker{Holder: l.holder, RefreshingSince: l.now().UTC()})
	if err != nil {
		return err
	}
	if err := l.backend.Create(LockName, data); err != nil {
		if errors.Is(err, ErrExist) {
			return fmt.Errorf("%w by another process", ErrLeaseHeld)
		}
		return fmt.Errorf("write refresh marker: %w", err)
	}
	return nil
}

// Release removes the marker if this holder still owns it. A marker that
// was overridden by another process is left alone.
func (l *Lease) Release() error {
	m, err := l.Current()
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil
		}
		return err
	}
	if m.Holder != l.holder {
		l.logger.Debug("refresh marker taken over", "holder", m.Holder)
		return nil
	}
	if err := l.backend.Remove(LockName); err != nil && !errors.Is(err, ErrNotExist) {
		return err
	}
	return nil
}

func (l *Lease) removeIfUnchanged(seen []byte) error {
	data, err := l.backend.Read(LockName)
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(data, seen) {
		return fmt.Errorf("%w by another process", ErrLeaseHeld)
	}
	if err := l.backend.Remove(LockName); err != nil && !errors.Is(err, ErrNotExist) {
		return err
	}
	return nil
}

func decodeMarker(data []byte) (*Marker, error) {
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: refresh marker: %v", ErrCorrupt, err)
	}
	if m.Holder == "" || m.RefreshingSince.IsZero() {
		return nil, fmt.Errorf("%w: refresh marker incomplete", ErrCorrupt)
	}
	return &m, nil
}
