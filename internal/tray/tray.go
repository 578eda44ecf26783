// Package tray provides a system tray control for the opticam sweep loop.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/opticam/internal/sweep"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(enabled bool)
	onShowBest func()
	onStatus   func()
	onQuit     func()
	enabled    bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuBest   *systray.MenuItem
}

// New creates a new Tray. enabled is the initial state of the sweep loop.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
	}
}

// OnToggle sets the callback function to be called when the loop is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnShowBest sets the callback for the "Show Best Frame" item.
func (t *Tray) OnShowBest(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onShowBest = fn
}

// OnStatus sets the callback for the "Open Status" item.
func (t *Tray) OnStatus(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("opticam")
	systray.SetTooltip("opticam camera settings sweep")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Start or pause the sweep loop")
	systray.AddSeparator()

	t.menuBest = systray.AddMenuItem(BestLabel(sweep.Record{}), "Best configuration so far")
	t.menuBest.Disable()
	t.mu.Unlock()

	menuShow := systray.AddMenuItem("Show Best Frame", "Display the best filtered frame")
	menuStatus := systray.AddMenuItem("Open Status...", "Open the status page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit opticam")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuShow.ClickedCh:
				t.handleShowBest()
			case <-menuStatus.ClickedCh:
				t.handleStatus()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle flips the enabled state and notifies the toggle callback.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleShowBest() {
	t.mu.RLock()
	callback := t.onShowBest
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleStatus() {
	t.mu.RLock()
	callback := t.onStatus
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetEnabled updates the toggle without firing the callback.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// SetBest updates the best configuration display in the menu.
func (t *Tray) SetBest(rec sweep.Record) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuBest != nil {
		t.menuBest.SetTitle(BestLabel(rec))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// BestLabel formats rec for the menu.
func BestLabel(rec sweep.Record) string {
	if !rec.Found {
		return "Best: none"
	}
	return fmt.Sprintf("Best: %s (%.0f)", rec.Params, rec.Quality)
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Sweeping"
	}
	return "○ Paused"
}
