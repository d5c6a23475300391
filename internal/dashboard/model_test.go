package dashboard_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/dashboard"
	"github.com/zsprackett/tokengauge/internal/provider"
	"github.com/zsprackett/tokengauge/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clientFunc func(ctx context.Context, cfg provider.Config) (usage.Snapshot, error)

func (f clientFunc) Fetch(ctx context.Context, cfg provider.Config) (usage.Snapshot, error) {
	return f(ctx, cfg)
}

// fakeStore counts calls and lets tests control refresh results.
type fakeStore struct {
	loads, gets, refreshes atomic.Int32

	mu      sync.Mutex
	entry   *usage.Entry
	err     error
	refresh func(ctx context.Context) (*usage.Entry, error)
}

func (f *fakeStore) Load() (*usage.Entry, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry, nil
}

func (f *fakeStore) GetOrRefresh(ctx context.Context, providers []provider.Config, ttl time.Duration) (*usage.Entry, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry, f.err
}

func (f *fakeStore) Refresh(ctx context.Context, providers []provider.Config, force bool) (*usage.Entry, error) {
	f.refreshes.Add(1)
	if f.refresh != nil {
		return f.refresh(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry, f.err
}

func (f *fakeStore) calls() int32 {
	return f.loads.Load() + f.gets.Load() + f.refreshes.Load()
}

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func sampleEntry(fetchedAt time.Time) *usage.Entry {
	e := usage.NewEntry(fetchedAt)
	e.Order = []usage.ProviderID{"codex"}
	e.Providers["codex"] = usage.Snapshot{
		FetchStatus: usage.StatusOK,
		Source:      "oauth",
		Windows: map[usage.Window]usage.Quota{
			usage.Daily: {Window: usage.Daily, Used: 8000, Limit: usage.Ptr(10000.0), ResetAt: now.Add(3*time.Hour + 5*time.Minute)},
		},
	}
	return e
}

func newModel(store dashboard.Store) *dashboard.Model {
	return dashboard.New(store, dashboard.Config{
		Providers: []provider.Config{{ID: "codex", Enabled: true}},
		Order:     []usage.ProviderID{"codex"},
		TTL:       10 * time.Minute,
		Window:    usage.Daily,
		Location:  time.UTC,
	}, discardLogger())
}

func TestFirstLaunchWithoutCache(t *testing.T) {
	var fetches atomic.Int32
	client := clientFunc(func(ctx context.Context, cfg provider.Config) (usage.Snapshot, error) {
		fetches.Add(1)
		return sampleEntry(now).Providers["codex"], nil
	})
	store := cache.New(cache.NewMemoryBackend(), client, cache.Options{}, discardLogger())
	m := newModel(store)
	defer m.Close()

	if m.State() != dashboard.Loading {
		t.Fatalf("initial state = %v, want loading", m.State())
	}
	if !strings.Contains(m.View(), "Loading usage") {
		t.Errorf("loading view:\n%s", m.View())
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != dashboard.Ready {
		t.Errorf("state = %v, want ready", m.State())
	}
	if fetches.Load() != 1 {
		t.Errorf("fetched %d times, want 1", fetches.Load())
	}
	if snap, ok := m.Entry().Snapshot("codex"); !ok || !snap.HasData() {
		t.Errorf("entry missing codex data: %+v", m.Entry())
	}
}

func TestLoadFailureShowsNoData(t *testing.T) {
	store := &fakeStore{err: cache.ErrRefreshInProgress}
	m := newModel(store)
	defer m.Close()

	if err := m.Load(context.Background()); !errors.Is(err, cache.ErrRefreshInProgress) {
		t.Fatalf("got %v", err)
	}
	if m.State() != dashboard.Ready {
		t.Errorf("state = %v, want ready", m.State())
	}
	view := m.View()
	for _, want := range []string{"No usage data yet", "Codex", "⚠ no data", "Another process is refreshing"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestLoadWithFailingProvider(t *testing.T) {
	client := clientFunc(func(ctx context.Context, cfg provider.Config) (usage.Snapshot, error) {
		return usage.Snapshot{}, &provider.Error{Provider: cfg.ID, Kind: provider.ErrNetworkFailure, Err: errors.New("exit status 1")}
	})
	store := cache.New(cache.NewMemoryBackend(), client, cache.Options{}, discardLogger())
	m := newModel(store)
	defer m.Close()

	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if view := m.View(); !strings.Contains(view, "⚠ network_error: exit status 1") {
		t.Errorf("view:\n%s", view)
	}
}

func TestViewShowsUsage(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now.Add(-5 * time.Minute))}
	m := newModel(store)
	defer m.Close()
	m.Load(context.Background())
	m.Tick(now)

	view := m.View()
	for _, want := range []string{"Codex", "oauth", " 80.0%", "Resets Mon 15:05 (in 3h05m)", "Last updated: Mar 2 11:55:00 (5 minutes ago)", "█", "░"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if m.Title() != " TokenGauge Usage " {
		t.Errorf("title = %q", m.Title())
	}
}

func TestTickRerendersWithoutStoreAccess(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now)}
	m := newModel(store)
	defer m.Close()
	m.Tick(now)
	m.Load(context.Background())
	before := store.calls()

	m.Tick(now.Add(time.Second))
	first := m.View()
	m.Tick(now.Add(5 * time.Minute))
	second := m.View()

	if store.calls() != before {
		t.Errorf("tick touched the store: %d calls", store.calls()-before)
	}
	if first == second {
		t.Error("countdown did not change between ticks")
	}
	if !strings.Contains(second, "in 3h00m") {
		t.Errorf("view:\n%s", second)
	}
}

func TestTickSchedulesReloadAndRefresh(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now)}
	m := newModel(store)
	defer m.Close()
	m.Tick(now)
	m.Load(context.Background())

	if a := m.Tick(now.Add(30 * time.Second)); a != dashboard.ActionNone {
		t.Errorf("after 30s: got %v want none", a)
	}
	if a := m.Tick(now.Add(61 * time.Second)); a != dashboard.ActionReload {
		t.Errorf("after 61s: got %v want reload", a)
	}
	m.Reload()
	if a := m.Tick(now.Add(90 * time.Second)); a != dashboard.ActionNone {
		t.Errorf("after reload: got %v want none", a)
	}
	if a := m.Tick(now.Add(11 * time.Minute)); a != dashboard.ActionAutoRefresh {
		t.Errorf("after ttl: got %v want auto refresh", a)
	}
}

func TestReloadPicksUpNewerEntry(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now)}
	m := newModel(store)
	defer m.Close()
	m.Load(context.Background())

	newer := sampleEntry(now.Add(time.Minute))
	store.mu.Lock()
	store.entry = newer
	store.mu.Unlock()
	m.Reload()
	if m.Entry() != newer {
		t.Error("reload did not adopt the newer entry")
	}
}

func TestRefreshTransitions(t *testing.T) {
	release := make(chan struct{})
	refreshed := sampleEntry(now.Add(time.Minute))
	store := &fakeStore{entry: sampleEntry(now)}
	store.refresh = func(ctx context.Context) (*usage.Entry, error) {
		<-release
		return refreshed, nil
	}
	m := newModel(store)
	defer m.Close()
	m.Load(context.Background())

	done := make(chan struct{})
	if !m.StartRefresh(true, func() { close(done) }) {
		t.Fatal("refresh refused")
	}
	if m.State() != dashboard.Refreshing {
		t.Errorf("state = %v, want refreshing", m.State())
	}
	if !strings.Contains(m.View(), "Refreshing...") || !strings.Contains(m.Title(), "Refreshing") {
		t.Errorf("refreshing view:\n%s", m.View())
	}
	if m.StartRefresh(true, nil) {
		t.Error("second refresh accepted while one is running")
	}

	close(release)
	<-done
	if m.State() != dashboard.Ready {
		t.Errorf("state = %v, want ready", m.State())
	}
	if m.Entry() != refreshed {
		t.Error("refreshed entry not applied")
	}
	if store.refreshes.Load() != 1 {
		t.Errorf("refreshed %d times, want 1", store.refreshes.Load())
	}
}

func TestManualRefreshThrottled(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now)}
	m := newModel(store)
	defer m.Close()
	m.Load(context.Background())

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Refresh(context.Background()); !errors.Is(err, dashboard.ErrThrottled) {
		t.Errorf("got %v want ErrThrottled", err)
	}
	if !strings.Contains(m.View(), "throttled") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestRefreshWriteWarningKeepsEntry(t *testing.T) {
	refreshed := sampleEntry(now.Add(time.Minute))
	store := &fakeStore{entry: sampleEntry(now)}
	store.refresh = func(ctx context.Context) (*usage.Entry, error) {
		return refreshed, &cache.WriteError{Err: errors.New("read-only file system")}
	}
	m := newModel(store)
	defer m.Close()
	m.Load(context.Background())

	m.Refresh(context.Background())
	if m.Entry() != refreshed {
		t.Error("entry from failed write not shown")
	}
	if !strings.Contains(m.View(), "Warning: cache write failed") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestCloseCancelsRunningRefresh(t *testing.T) {
	var cancelled atomic.Bool
	store := &fakeStore{entry: sampleEntry(now)}
	store.refresh = func(ctx context.Context) (*usage.Entry, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}
	m := newModel(store)
	m.Load(context.Background())

	if !m.StartRefresh(true, nil) {
		t.Fatal("refresh refused")
	}
	m.Close()
	if !cancelled.Load() {
		t.Error("Close returned before the refresh observed cancellation")
	}
}

func TestKeyAction(t *testing.T) {
	tests := []struct {
		key  tcell.Key
		r    rune
		want dashboard.Action
	}{
		{tcell.KeyRune, 'r', dashboard.ActionRefresh},
		{tcell.KeyRune, 'R', dashboard.ActionRefresh},
		{tcell.KeyRune, 'q', dashboard.ActionQuit},
		{tcell.KeyRune, 'Q', dashboard.ActionQuit},
		{tcell.KeyEscape, 0, dashboard.ActionQuit},
		{tcell.KeyRune, 'x', dashboard.ActionNone},
		{tcell.KeyEnter, 0, dashboard.ActionNone},
	}
	for _, tt := range tests {
		if got := dashboard.KeyAction(tt.key, tt.r); got != tt.want {
			t.Errorf("KeyAction(%v, %q) = %v, want %v", tt.key, tt.r, got, tt.want)
		}
	}
}

func TestSeverityFollowsPreferredWindow(t *testing.T) {
	store := &fakeStore{entry: sampleEntry(now)}
	m := newModel(store)
	defer m.Close()
	if m.Severity() != usage.SeverityNA {
		t.Errorf("before load: got %q want na", m.Severity())
	}
	m.Load(context.Background())
	if m.Severity() != usage.SeverityWarning {
		t.Errorf("got %q want warning", m.Severity())
	}
}
