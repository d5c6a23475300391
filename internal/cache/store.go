package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/tokengauge/internal/provider"
	"github.com/zsprackett/tokengauge/internal/usage"
)

// ErrRefreshInProgress is returned when another process holds the refresh
// lease and no entry could be served in its place.
var ErrRefreshInProgress = errors.New("refresh in progress in another process")

// WriteError reports that a refresh completed but could not be persisted.
// The refreshed entry is still returned alongside it.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type Options struct {
	// StaleAfter is how long a refresh marker is honoured.
	StaleAfter time.Duration
	// WaitTimeout bounds how long a caller waits for another holder.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// Holder overrides the generated lease holder id.
	Holder string
	// OnRefresh is called after every refresh this store performs.
	OnRefresh func(e *usage.Entry, took time.Duration, err error)
}

// Store is the single source of truth for usage snapshots. Any number of
// processes may share one Backend.
type Store struct {
	backend Backend
	client  provider.Client
	lease   *Lease
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

func New(backend Backend, client provider.Client, opts Options, logger *slog.Logger) *Store {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = opts.StaleAfter/3 + 2*time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Store{
		backend: backend,
		client:  client,
		lease:   NewLease(backend, opts.Holder, opts.StaleAfter, logger),
		opts:    opts,
		now:     time.Now,
		logger:  logger,
	}
}

// SetNow replaces the clock. Used in tests.
func (s *Store) SetNow(fn func() time.Time) {
	s.now = fn
	s.lease.now = fn
}

func (s *Store) Lease() *Lease {
	return s.lease
}

// Load returns the stored entry, or nil when none exists. A corrupt entry
// is logged and treated as absent.
func (s *Store) Load() (*usage.Entry, error) {
	data, err := s.backend.Read(EntryName)
	if errors.Is(err, ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	e, err := decodeEntry(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable cache entry", "err", err)
		return nil, nil
	}
	return e, nil
}

// IsFresh reports whether e was fetched less than ttl ago.
func IsFresh(e *usage.Entry, now time.Time, ttl time.Duration) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.FetchedAt) < ttl
}

func (s *Store) IsFresh(e *usage.Entry, ttl time.Duration) bool {
	return IsFresh(e, s.now(), ttl)
}

// GetOrRefresh returns the stored entry if it is fresh and refreshes it
// otherwise.
func (s *Store) GetOrRefresh(ctx context.Context, providers []provider.Config, ttl time.Duration) (*usage.Entry, error) {
	e, err := s.Load()
	if err != nil {
		s.logger.Warn("cache load failed, refreshing", "err", err)
	}
	if s.IsFresh(e, ttl) {
		return e, nil
	}
	return s.refresh(ctx, providers, false, ttl)
}

// Refresh fetches every enabled provider and persists the merged entry.
// Without force, a caller that finds another refresh in progress is served
// the last stored entry instead of fetching.
func (s *Store) Refresh(ctx context.Context, providers []provider.Config, force bool) (*usage.Entry, error) {
	return s.refresh(ctx, providers, force, 0)
}

func (s *Store) refresh(ctx context.Context, providers []provider.Config, force bool, ttl time.Duration) (*usage.Entry, error) {
	if err := s.lease.Acquire(); err != nil {
		if !errors.Is(err, ErrLeaseHeld) {
			return nil, err
		}
		s.logger.Debug("refresh deferred", "reason", err)
		return s.awaitHolder(ctx, force)
	}
	defer func() {
		if err := s.lease.Release(); err != nil {
			s.logger.Warn("release refresh marker", "err", err)
		}
	}()

	prev, err := s.Load()
	if err != nil {
		s.logger.Warn("cache load failed", "err", err)
	}
	if !force && ttl > 0 && s.IsFresh(prev, ttl) {
		return prev, nil
	}

	start := s.now()
	entry := s.fetchAll(ctx, providers, prev)
	werr := s.write(entry)
	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(entry, s.now().Sub(start), werr)
	}
	if werr != nil {
		return entry, werr
	}
	return entry, nil
}

// awaitHolder waits for the lease holder to publish. A non-forced caller
// with a stored entry is served that entry immediately.
func (s *Store) awaitHolder(ctx context.Context, force bool) (*usage.Entry, error) {
	prev, _ := s.Load()
	if !force && prev != nil {
		return prev, nil
	}

	deadline := time.NewTimer(s.opts.WaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if prev != nil {
				return prev, nil
			}
			return nil, ErrRefreshInProgress
		case <-ticker.C:
		}

		cur, _ := s.Load()
		if cur != nil && (prev == nil || cur.FetchedAt.After(prev.FetchedAt)) {
			return cur, nil
		}
		if _, err := s.lease.Current(); errors.Is(err, ErrNotExist) {
			// holder finished without publishing anything new
			if cur != nil {
				return cur, nil
			}
			return nil, ErrRefreshInProgress
		}
	}
}

type fetchResult struct {
	snap usage.Snapshot
	err  error
}

func (s *Store) fetchAll(ctx context.Context, providers []provider.Config, prev *usage.Entry) *usage.Entry {
	var enabled []provider.Config
	for _, p := range providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}

	results := make([]fetchResult, len(enabled))
	var wg sync.WaitGroup
	for i, p := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := s.client.Fetch(ctx, p)
			results[i] = fetchResult{snap: snap, err: err}
		}()
	}
	wg.Wait()

	now := s.now().UTC()
	entry := usage.NewEntry(now)
	for i, p := range enabled {
		entry.Order = append(entry.Order, p.ID)
		old, hadOld := prev.Snapshot(p.ID)
		r := results[i]
		if r.err == nil {
			snap := r.snap
			snap.FetchStatus = usage.StatusOK
			snap.Error = ""
			snap.StaleSince = time.Time{}
			if hadOld {
				keepResetMonotonic(&snap, old, now)
			}
			entry.Providers[p.ID] = snap
			continue
		}

		status := provider.Status(r.err)
		s.logger.Warn("provider fetch failed", "provider", p.ID, "status", status, "err", r.err)
		snap := usage.Snapshot{FetchStatus: status, Error: provider.Detail(r.err)}
		if hadOld && old.HasData() {
			snap.Windows = old.Windows
			snap.Source = old.Source
			snap.Version = old.Version
			snap.Credits = old.Credits
			snap.UpdatedAt = old.UpdatedAt
			snap.StaleSince = old.StaleSince
			if snap.StaleSince.IsZero() {
				snap.StaleSince = prev.FetchedAt
			}
		}
		entry.Providers[p.ID] = snap
	}
	return entry
}

// keepResetMonotonic prevents a reset time from moving backwards while the
// previously reported reset is still ahead.
func keepResetMonotonic(snap *usage.Snapshot, old usage.Snapshot, now time.Time) {
	for w, q := range snap.Windows {
		oq, ok := old.Windows[w]
		if !ok || oq.ResetAt.IsZero() || !now.Before(oq.ResetAt) {
			continue
		}
		if q.ResetAt.IsZero() || q.ResetAt.Before(oq.ResetAt) {
			q.ResetAt = oq.ResetAt
			snap.Windows[w] = q
		}
	}
}

func (s *Store) write(e *usage.Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return &WriteError{Err: err}
	}
	if err := s.backend.Write(EntryName, data); err != nil {
		s.logger.Error("cache write failed", "err", err)
		return &WriteError{Err: err}
	}
	return nil
}
