package ui

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/tokengauge/internal/dashboard"
	"github.com/zsprackett/tokengauge/internal/provider"
	"github.com/zsprackett/tokengauge/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingStore serves Load and, unless loadBlocks is set, GetOrRefresh
// immediately. Blocked calls wait for their context and report on started.
type blockingStore struct {
	loadBlocks bool
	started    chan string
	cancelled  chan string
}

func newBlockingStore(loadBlocks bool) *blockingStore {
	return &blockingStore{
		loadBlocks: loadBlocks,
		started:    make(chan string, 4),
		cancelled:  make(chan string, 4),
	}
}

func (s *blockingStore) block(ctx context.Context, op string) (*usage.Entry, error) {
	s.started <- op
	<-ctx.Done()
	s.cancelled <- op
	return nil, ctx.Err()
}

func (s *blockingStore) Load() (*usage.Entry, error) {
	return nil, nil
}

func (s *blockingStore) GetOrRefresh(ctx context.Context, providers []provider.Config, ttl time.Duration) (*usage.Entry, error) {
	if s.loadBlocks {
		return s.block(ctx, "load")
	}
	return usage.NewEntry(time.Now()), nil
}

func (s *blockingStore) Refresh(ctx context.Context, providers []provider.Config, force bool) (*usage.Entry, error) {
	return s.block(ctx, "refresh")
}

func newTestApp(t *testing.T, store dashboard.Store) (*App, *dashboard.Model) {
	t.Helper()
	model := dashboard.New(store, dashboard.Config{
		Order: []usage.ProviderID{"codex"},
	}, discardLogger())
	a := NewApp(model, discardLogger())
	a.tapp.SetScreen(tcell.NewSimulationScreen("UTF-8"))
	return a, model
}

func runApp(a *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	return done
}

func pressKey(a *App, r rune) {
	a.tapp.QueueEvent(tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone))
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func waitExit(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after quit")
	}
}

func TestQuitWhileLoading(t *testing.T) {
	store := newBlockingStore(true)
	a, _ := newTestApp(t, store)
	done := runApp(a)

	waitFor(t, store.started, "load")
	pressKey(a, 'q')
	waitExit(t, done)
	waitFor(t, store.cancelled, "load")
}

func TestQuitWhileRefreshing(t *testing.T) {
	store := newBlockingStore(false)
	a, model := newTestApp(t, store)
	done := runApp(a)

	deadline := time.Now().Add(5 * time.Second)
	for model.State() != dashboard.Ready {
		if time.Now().After(deadline) {
			t.Fatalf("state: got %s want ready", model.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	pressKey(a, 'r')
	waitFor(t, store.started, "refresh")
	pressKey(a, 'q')
	waitExit(t, done)
	waitFor(t, store.cancelled, "refresh")
}

func TestRedrawDoesNotBlockAfterStop(t *testing.T) {
	a, model := newTestApp(t, newBlockingStore(false))
	close(a.stop)
	model.Close()

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.redraw()
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("redraw blocked with no event loop running")
	}
}
