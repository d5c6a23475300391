package ui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/tokengauge/internal/dashboard"
)

// App hosts the dashboard model in a full-screen tview application.
type App struct {
	tapp     *tview.Application
	view     *tview.TextView
	model    *dashboard.Model
	interval time.Duration
	dirty    chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewApp(model *dashboard.Model, logger *slog.Logger) *App {
	a := &App{
		tapp:     tview.NewApplication(),
		view:     tview.NewTextView(),
		model:    model,
		interval: 500 * time.Millisecond,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		logger:   logger,
	}
	a.view.SetBorder(true).SetTitleAlign(tview.AlignLeft)
	a.view.SetDynamicColors(true)
	a.view.SetBackgroundColor(tcell.ColorDefault)
	a.view.SetTextColor(ColorText)

	a.view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch dashboard.KeyAction(event.Key(), event.Rune()) {
		case dashboard.ActionQuit:
			a.tapp.Stop()
			return nil
		case dashboard.ActionRefresh:
			a.model.StartRefresh(true, a.redraw)
			a.draw()
			return nil
		}
		return event
	})

	a.tapp.SetRoot(a.view, true).EnableMouse(false)
	return a
}

// Run blocks until the user quits. The initial load runs in the background
// so the Loading state is visible.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.draw()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.model.Load(ctx); err != nil {
			a.logger.Warn("initial load failed", "err", err)
		}
		a.redraw()
	}()
	a.startTicker()
	go a.drawLoop()

	err := a.tapp.Run()

	cancel()
	close(a.stop)
	a.wg.Wait()
	a.model.Close()
	return err
}

func (a *App) startTicker() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case now := <-ticker.C:
				switch a.model.Tick(now) {
				case dashboard.ActionReload:
					a.model.Reload()
				case dashboard.ActionAutoRefresh:
					a.model.StartRefresh(false, a.redraw)
				}
				a.redraw()
			}
		}
	}()
}

// redraw asks for a repaint without blocking. Goroutines that teardown waits
// on call it, and QueueUpdateDraw never returns once tapp.Run has exited.
func (a *App) redraw() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// drawLoop is the only caller of QueueUpdateDraw. It is not part of wg: if
// the event loop stops while an update is queued it stays parked until exit.
func (a *App) drawLoop() {
	for {
		select {
		case <-a.stop:
			return
		case <-a.dirty:
			select {
			case <-a.stop:
				return
			default:
			}
			a.tapp.QueueUpdateDraw(a.draw)
		}
	}
}

func (a *App) draw() {
	a.view.SetTitle(a.model.Title())
	a.view.SetTitleColor(TitleColor(a.model.State()))
	a.view.SetBorderColor(SeverityColor(a.model.Severity()))
	a.view.SetText(a.model.View())
}
