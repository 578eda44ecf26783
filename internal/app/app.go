// Package app wires the capture device, the sweeper and its observers
// into the opticam application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/opticam/internal/capture"
	"github.com/ayusman/opticam/internal/display"
	"github.com/ayusman/opticam/internal/filter"
	"github.com/ayusman/opticam/internal/hook"
	"github.com/ayusman/opticam/internal/server"
	"github.com/ayusman/opticam/internal/store"
	"github.com/ayusman/opticam/internal/sweep"
)

// ErrNotOpen is returned when sweeping before Open.
var ErrNotOpen = errors.New("app not open")

// Config holds the application's collaborators. Only Camera is required.
type Config struct {
	Camera       capture.Camera
	Store        *store.Store
	Sweep        sweep.Options
	Retry        capture.RetryPolicy
	SettleFrames int
	Metric       filter.Metric
	// Baseline is the resolution of the live frame shown next to each new best.
	Baseline sweep.Resolution
	Preview  *display.Preview
	Hook     *hook.Executor
	// HookEvery is the minimum spacing of hook runs. Improvements in
	// between are coalesced into one run with the sweep's final best.
	HookEvery time.Duration
	Events    *server.Hub
	// Out receives the user-visible improvement and summary lines.
	Out io.Writer
}

// App owns the capture device and the sweeper.
type App struct {
	config  Config
	device  *capture.Device
	tracker *sweep.Tracker
	sweeper *sweep.Sweeper

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	loopStop  context.CancelFunc
	loopDone  chan struct{}
	hooks     sync.WaitGroup
	hookMu    sync.Mutex
	hookLimit *rate.Limiter
	hookDue   atomic.Bool
	outMu     sync.Mutex
	improveFn []func(sweep.Record)
}

// New creates an App. The camera is not opened until Open.
func New(config Config) *App {
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if config.Retry.Attempts <= 0 {
		config.Retry = capture.DefaultRetryPolicy()
	}
	if config.Baseline.Width <= 0 || config.Baseline.Height <= 0 {
		config.Baseline = sweep.Resolution{Width: capture.DefaultWidth, Height: capture.DefaultHeight}
	}

	a := &App{
		config:    config,
		device:    capture.NewDevice(config.Camera, config.Retry, config.SettleFrames),
		tracker:   sweep.NewTracker(),
		hookLimit: rate.NewLimiter(rate.Inf, 1),
	}
	if config.HookEvery > 0 {
		a.hookLimit = rate.NewLimiter(rate.Every(config.HookEvery), 1)
	}

	var recorder sweep.Recorder
	if config.Store != nil {
		recorder = &storeRecorder{store: config.Store}
	}

	eval := sweep.NewEvaluator(a.device, filter.Bilateral{}, config.Metric)
	a.sweeper = sweep.New(config.Sweep, eval, a.tracker, recorder)
	a.sweeper.OnImprove(a.improved)
	a.sweeper.OnFinish(a.finished)

	return a
}

// Open opens the camera and starts the device owner. A camera that cannot
// be opened is returned as an error.
func (a *App) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx != nil {
		return nil
	}

	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	go a.device.Run(a.ctx)

	log.Println("Capture device started")
	return nil
}

// Close stops any sweep, waits for pending hooks and releases the camera,
// the best frame and the preview window.
func (a *App) Close() error {
	a.Stop()

	a.mu.Lock()
	cancel := a.cancel
	a.ctx, a.cancel = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		a.tracker.Close()
		return nil
	}

	cancel()
	<-a.device.Done()
	a.hooks.Wait()

	var errs []error
	if err := a.config.Camera.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if a.config.Preview != nil {
		if err := a.config.Preview.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close preview: %w", err))
		}
	}
	a.tracker.Close()

	log.Println("Capture device stopped")
	return errors.Join(errs...)
}

// RunOnce performs a single sweep over the grid.
func (a *App) RunOnce(ctx context.Context) (sweep.Summary, error) {
	if !a.isOpen() {
		return sweep.Summary{}, ErrNotOpen
	}
	return a.sweeper.RunOnce(ctx)
}

// Loop sweeps repeatedly until ctx is cancelled.
func (a *App) Loop(ctx context.Context) error {
	if !a.isOpen() {
		return ErrNotOpen
	}
	return a.sweeper.Loop(ctx)
}

// Start begins looping in the background. It is a no-op when the loop is
// already running.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil {
		return ErrNotOpen
	}
	if a.loopDone != nil {
		return nil
	}

	ctx, stop := context.WithCancel(a.ctx)
	done := make(chan struct{})
	a.loopStop = stop
	a.loopDone = done

	go func() {
		defer close(done)
		if err := a.sweeper.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Sweep loop ended: %v", err)
		}

		a.mu.Lock()
		if a.loopDone == done {
			a.loopStop = nil
			a.loopDone = nil
		}
		a.mu.Unlock()
		stop()
	}()

	log.Println("Sweep loop started")
	return nil
}

// Stop cancels the background loop and waits for it to exit.
func (a *App) Stop() {
	a.mu.Lock()
	stop, done := a.loopStop, a.loopDone
	a.mu.Unlock()

	if stop == nil {
		return
	}

	stop()
	<-done
	log.Println("Sweep loop stopped")
}

// Running reports whether the background loop is active.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loopDone != nil
}

// State returns the sweeper's cycle state.
func (a *App) State() sweep.State {
	return a.sweeper.State()
}

// LastSummary returns the summary of the most recent sweep.
func (a *App) LastSummary() sweep.Summary {
	return a.sweeper.LastSummary()
}

// Tracker returns the best-record tracker.
func (a *App) Tracker() *sweep.Tracker {
	return a.tracker
}

// OnImprove registers fn to be called with every new best record.
func (a *App) OnImprove(fn func(sweep.Record)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.improveFn = append(a.improveFn, fn)
}

// ShowBest draws the best frame in the preview window.
func (a *App) ShowBest() error {
	if a.config.Preview == nil {
		return errors.New("display disabled")
	}

	frame, err := a.tracker.Frame()
	defer frame.Close()
	if err != nil {
		return err
	}
	return a.config.Preview.Show(frame)
}

// WaitForKey shows the best frame and blocks until a key is pressed in the
// preview window. It returns immediately without a preview or a best frame.
func (a *App) WaitForKey() {
	if err := a.ShowBest(); err != nil {
		if !errors.Is(err, sweep.ErrNoBest) {
			log.Printf("Error showing best frame: %v", err)
		}
		return
	}
	a.config.Preview.Wait(0)
}

func (a *App) isOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx != nil
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.config.Out, format, args...)
}

// improved runs on the sweeper's reduction goroutine.
func (a *App) improved(ctx context.Context, rec sweep.Record, frame gocv.Mat) {
	a.printf("new best: %s quality=%.0f\n", rec.Params, rec.Quality)

	if a.config.Preview != nil {
		a.compare(ctx, frame)
	}

	if a.config.Events != nil {
		a.config.Events.Broadcast(server.ImprovedEvent(rec))
	}

	if a.config.Hook != nil {
		if a.hookLimit.Allow() {
			a.startHook(rec)
		} else {
			a.hookDue.Store(true)
		}
	}

	a.mu.Lock()
	callbacks := append([]func(sweep.Record){}, a.improveFn...)
	a.mu.Unlock()
	for _, fn := range callbacks {
		fn(rec)
	}
}

// compare renders a live baseline frame next to best. Failures are logged.
func (a *App) compare(ctx context.Context, best gocv.Mat) {
	live, err := a.device.Grab(ctx, a.config.Baseline.Width, a.config.Baseline.Height)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Error grabbing baseline frame: %v", err)
		}
		return
	}
	defer live.Close()

	if err := a.config.Preview.Compare(*live, best); err != nil {
		log.Printf("Error displaying comparison: %v", err)
	}
}

func (a *App) startHook(rec sweep.Record) {
	a.hooks.Add(1)
	go func() {
		defer a.hooks.Done()
		a.runHook(rec)
	}()
}

// scheduleHook runs the hook once the limiter's spacing has elapsed. A
// pending run is dropped when the App closes.
func (a *App) scheduleHook(rec sweep.Record) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		return
	}

	r := a.hookLimit.Reserve()
	a.hooks.Add(1)
	go func() {
		defer a.hooks.Done()

		timer := time.NewTimer(r.Delay())
		defer timer.Stop()
		select {
		case <-ctx.Done():
			r.Cancel()
			log.Printf("Dropped pending improvement hook for %s", rec.Params)
			return
		case <-timer.C:
		}
		a.runHook(rec)
	}()
}

// runHook executes the hook; runs never overlap.
func (a *App) runHook(rec sweep.Record) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()

	resp, err := a.config.Hook.Execute(context.Background(), hook.NewImproveEvent(rec))
	if err != nil {
		log.Printf("Improvement hook failed: %v", err)
		return
	}
	if !resp.Success {
		log.Printf("Improvement hook reported failure: %s", resp.Error)
	}
}

func (a *App) finished(sum sweep.Summary) {
	if sum.Best.Found {
		a.printf("best configuration: %s quality=%.0f\n", sum.Best.Params, sum.Best.Quality)
	} else {
		a.printf("best configuration: none (no configuration produced a frame)\n")
	}

	if a.hookDue.Swap(false) && sum.Best.Found {
		a.scheduleHook(sum.Best)
	}

	if a.config.Events != nil {
		a.config.Events.Broadcast(server.FinishedEvent(sum))
	}
}
