package sweep

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// Sweep defaults.
const (
	// DefaultWorkers is the size of the evaluation pool.
	DefaultWorkers = 10
	// DefaultInterval is the pause between passes in loop mode.
	DefaultInterval = 5 * time.Second
)

// ErrBusy is returned when a sweep is already in progress.
var ErrBusy = errors.New("sweep already running")

// State is the sweeper's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateDispatching
	StateDraining
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Summary describes one completed (or cancelled) pass over the grid.
type Summary struct {
	RunID          string    `json:"run_id"`
	Metric         string    `json:"metric"`
	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
	Configurations int       `json:"configurations"`
	Evaluated      int       `json:"evaluated"`
	Failures       int       `json:"failures"`
	Improvements   int       `json:"improvements"`
	Cancelled      bool      `json:"cancelled"`
	Best           Record    `json:"best"`
}

// Recorder persists runs and their results. Errors are logged, never fatal.
type Recorder interface {
	BeginRun(s Summary) error
	RecordResult(runID string, r Result) error
	FinishRun(s Summary) error
}

// ImproveFunc is called on the reduction goroutine after a new best is
// recorded. frame is a copy that is closed once every callback returns.
type ImproveFunc func(ctx context.Context, rec Record, frame gocv.Mat)

// Options configures a Sweeper.
type Options struct {
	Grid     Grid
	Limit    int
	Workers  int
	Interval time.Duration
}

// Sweeper evaluates every configuration of a Grid with a bounded pool and
// reduces the results into a Tracker.
type Sweeper struct {
	opts     Options
	eval     *Evaluator
	tracker  *Tracker
	recorder Recorder

	state   atomic.Int32
	running atomic.Bool

	mu        sync.RWMutex
	onImprove []ImproveFunc
	onFinish  []func(Summary)
	last      Summary
}

// New creates a Sweeper. recorder may be nil.
func New(opts Options, eval *Evaluator, tracker *Tracker, recorder Recorder) *Sweeper {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Sweeper{
		opts:     opts,
		eval:     eval,
		tracker:  tracker,
		recorder: recorder,
	}
}

// OnImprove registers a callback for new best records.
func (s *Sweeper) OnImprove(fn ImproveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onImprove = append(s.onImprove, fn)
}

// OnFinish registers a callback run after every pass.
func (s *Sweeper) OnFinish(fn func(Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinish = append(s.onFinish, fn)
}

// State returns the current cycle state.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

// Tracker returns the tracker results are reduced into.
func (s *Sweeper) Tracker() *Tracker {
	return s.tracker
}

// LastSummary returns the summary of the most recent pass.
func (s *Sweeper) LastSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sweeper) setState(st State) {
	s.state.Store(int32(st))
}

// RunOnce evaluates the grid once. It returns ctx's error if cancelled;
// per-configuration failures never cause an error.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrBusy
	}
	defer s.running.Store(false)

	return s.runOnce(ctx)
}

// Loop runs passes separated by the configured interval until ctx is
// cancelled.
func (s *Sweeper) Loop(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	defer s.setState(StateIdle)

	for {
		if _, err := s.runOnce(ctx); err != nil {
			return err
		}

		s.setState(StateSleeping)
		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) (Summary, error) {
	defer s.setState(StateIdle)

	sum := Summary{
		RunID:   uuid.NewString(),
		Metric:  s.eval.Metric().Name(),
		Started: time.Now(),
	}

	s.setState(StateEnumerating)
	configs := s.opts.Grid.Enumerate(s.opts.Limit)
	sum.Configurations = len(configs)

	if s.recorder != nil {
		if err := s.recorder.BeginRun(sum); err != nil {
			log.Printf("Failed to record run %s: %v", sum.RunID, err)
		}
	}

	log.Printf("Sweep %s: %d configurations, %d workers, metric %s",
		sum.RunID, len(configs), s.opts.Workers, sum.Metric)

	results := make(chan Result, s.opts.Workers)

	go func() {
		defer close(results)

		s.setState(StateDispatching)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)

		for _, p := range configs {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- s.eval.Evaluate(gctx, p)
				return nil
			})
		}

		s.setState(StateDraining)
		g.Wait()
	}()

	for r := range results {
		sum.Evaluated++
		if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
			sum.Cancelled = true
		} else if !r.OK() {
			sum.Failures++
		}

		if s.recorder != nil {
			if err := s.recorder.RecordResult(sum.RunID, r); err != nil {
				log.Printf("Failed to record result for %s: %v", r.Params, err)
			}
		}

		if s.tracker.Offer(r) {
			sum.Improvements++
			s.improved(ctx)
		}
	}

	sum.Finished = time.Now()
	sum.Best = s.tracker.Best()
	if ctx.Err() != nil {
		sum.Cancelled = true
	}

	if s.recorder != nil {
		if err := s.recorder.FinishRun(sum); err != nil {
			log.Printf("Failed to finish run %s: %v", sum.RunID, err)
		}
	}

	log.Printf("Sweep %s done in %s: %d evaluated, %d failed, %d improvements",
		sum.RunID, sum.Finished.Sub(sum.Started).Round(time.Millisecond),
		sum.Evaluated, sum.Failures, sum.Improvements)

	s.mu.Lock()
	s.last = sum
	finish := append([]func(Summary){}, s.onFinish...)
	s.mu.Unlock()

	for _, fn := range finish {
		fn(sum)
	}

	if sum.Cancelled {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *Sweeper) improved(ctx context.Context) {
	rec := s.tracker.Best()
	log.Printf("New best: %s quality=%.0f", rec.Params, rec.Quality)

	s.mu.RLock()
	callbacks := append([]ImproveFunc{}, s.onImprove...)
	s.mu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	frame, err := s.tracker.Frame()
	defer frame.Close()
	if err != nil {
		return
	}

	for _, fn := range callbacks {
		fn(ctx, rec, frame)
	}
}
