package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsprackett/tokengauge/internal/usage"
)

// Config is the per-provider slice of configuration a Client needs.
type Config struct {
	ID        usage.ProviderID
	Enabled   bool
	Source    string // "oauth" or "api"; empty means oauth
	APIKey    string
	APIKeyEnv string
}

// Client fetches the current usage of one provider. Implementations do not
// retry; retry policy belongs to the caller.
type Client interface {
	Fetch(ctx context.Context, cfg Config) (usage.Snapshot, error)
}

var (
	ErrAuthExpired    = errors.New("credential missing or expired")
	ErrNetworkFailure = errors.New("usage tool failed")
	ErrParseFailure   = errors.New("unexpected usage output")
	ErrNotConfigured  = errors.New("provider not configured")
)

// Error is a per-provider fetch failure. Kind is one of the Err* sentinels,
// so errors.Is(err, ErrAuthExpired) works on wrapped values.
type Error struct {
	Provider usage.ProviderID
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(id usage.ProviderID, kind, err error) *Error {
	return &Error{Provider: id, Kind: kind, Err: err}
}

// Status maps a fetch error to the fetch status recorded in the cache.
func Status(err error) usage.FetchStatus {
	switch {
	case err == nil:
		return usage.StatusOK
	case errors.Is(err, ErrAuthExpired):
		return usage.StatusAuthError
	case errors.Is(err, ErrParseFailure):
		return usage.StatusParseError
	case errors.Is(err, ErrNotConfigured):
		return usage.StatusNotConfigured
	default:
		return usage.StatusNetworkError
	}
}

// Detail returns the human-readable cause of err without the provider prefix.
func Detail(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	if pe != nil {
		return pe.Kind.Error()
	}
	return err.Error()
}
