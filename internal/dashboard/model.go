// Package dashboard holds the interactive view state of the usage dashboard.
// It knows nothing about the terminal; internal/ui drives it.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/time/rate"

	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/provider"
	"github.com/zsprackett/tokengauge/internal/usage"
)

type State int

const (
	Loading State = iota
	Ready
	Refreshing
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Action is what the view loop should do next.
type Action int

const (
	ActionNone Action = iota
	ActionRefresh
	ActionQuit
	// ActionReload re-reads the cache to pick up refreshes by other processes.
	ActionReload
	// ActionAutoRefresh refreshes because the entry outlived its TTL.
	ActionAutoRefresh
)

var (
	ErrBusy      = errors.New("refresh already running")
	ErrThrottled = errors.New("refresh requested too soon")
)

// Store is the part of *cache.Store the dashboard uses.
type Store interface {
	Load() (*usage.Entry, error)
	GetOrRefresh(ctx context.Context, providers []provider.Config, ttl time.Duration) (*usage.Entry, error)
	Refresh(ctx context.Context, providers []provider.Config, force bool) (*usage.Entry, error)
}

type Config struct {
	Providers []provider.Config
	Order     []usage.ProviderID
	TTL       time.Duration
	Window    usage.Window
	Policy    usage.StalePolicy
	// ReloadEvery is how often the cache is re-read between refreshes.
	ReloadEvery time.Duration
	// MinRefreshGap throttles manual refreshes.
	MinRefreshGap time.Duration
	Location      *time.Location
}

type Model struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	entry       *usage.Entry
	lastErr     error
	notice      string
	now         time.Time
	lastAttempt time.Time
	lastReload  time.Time
	spin        int

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store Store, cfg Config, logger *slog.Logger) *Model {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.ReloadEvery <= 0 {
		cfg.ReloadEvery = time.Minute
	}
	if cfg.MinRefreshGap <= 0 {
		cfg.MinRefreshGap = 5 * time.Second
	}
	if cfg.Window == "" {
		cfg.Window = usage.Daily
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		state:   Loading,
		now:     time.Now(),
		limiter: rate.NewLimiter(rate.Every(cfg.MinRefreshGap), 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Model) Entry() *usage.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry
}

// Err is the last load or refresh error, shown inline.
func (m *Model) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Load performs the initial load, fetching synchronously when the cache is
// absent or stale. A failure leaves the model Ready without data.
func (m *Model) Load(ctx context.Context) error {
	m.mu.Lock()
	m.state = Loading
	m.mu.Unlock()

	entry, err := m.store.GetOrRefresh(ctx, m.cfg.Providers, m.cfg.TTL)
	m.apply(entry, err)
	return err
}

// Refresh forces a refresh and blocks until it completes.
func (m *Model) Refresh(ctx context.Context) error {
	if err := m.begin(true); err != nil {
		return err
	}
	entry, err := m.store.Refresh(ctx, m.cfg.Providers, true)
	m.apply(entry, err)
	return err
}

// StartRefresh runs a refresh in the background and calls done when it has
// been applied. force bypasses the TTL check. It returns false when the
// refresh was refused.
func (m *Model) StartRefresh(force bool, done func()) bool {
	if err := m.begin(force); err != nil {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var (
			entry *usage.Entry
			err   error
		)
		if force {
			entry, err = m.store.Refresh(m.ctx, m.cfg.Providers, true)
		} else {
			entry, err = m.store.GetOrRefresh(m.ctx, m.cfg.Providers, m.cfg.TTL)
		}
		m.apply(entry, err)
		if done != nil {
			done()
		}
	}()
	return true
}

// Reload re-reads the stored entry without fetching.
func (m *Model) Reload() {
	entry, err := m.store.Load()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReload = m.now
	if err != nil {
		m.logger.Debug("dashboard reload failed", "err", err)
		return
	}
	if m.state == Ready && entry != nil && (m.entry == nil || entry.FetchedAt.After(m.entry.FetchedAt)) {
		m.entry = entry
	}
}

// Tick advances the render clock. It never touches the store; the returned
// action tells the caller whether a reload or refresh is due.
func (m *Model) Tick(now time.Time) Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	if m.state != Ready {
		m.spin++
		return ActionNone
	}
	if now.Sub(m.lastAttempt) >= m.cfg.TTL && !cache.IsFresh(m.entry, now, m.cfg.TTL) {
		return ActionAutoRefresh
	}
	if now.Sub(m.lastReload) >= m.cfg.ReloadEvery {
		return ActionReload
	}
	return ActionNone
}

// KeyAction maps a key press to an action: r refreshes, q or Esc quits.
func KeyAction(key tcell.Key, r rune) Action {
	switch {
	case key == tcell.KeyEscape, r == 'q', r == 'Q':
		return ActionQuit
	case r == 'r', r == 'R':
		return ActionRefresh
	}
	return ActionNone
}

// Close cancels any running refresh and waits for it, so its refresh marker
// is released before the process exits.
func (m *Model) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Model) begin(manual bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Refreshing, Loading:
		m.notice = "Refresh already running"
		return ErrBusy
	}
	if manual && !m.limiter.Allow() {
		m.notice = "Refresh throttled, try again shortly"
		return ErrThrottled
	}
	m.state = Refreshing
	m.notice = ""
	return nil
}

func (m *Model) apply(entry *usage.Entry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry != nil {
		m.entry = entry
	}
	if err != nil {
		m.logger.Warn("dashboard refresh failed", "err", err)
	}
	m.lastErr = err
	m.state = Ready
	m.notice = ""
	m.lastAttempt = m.now
	m.lastReload = m.now
}
