package sweep

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrNoBest is returned when no frame has been recorded yet.
var ErrNoBest = errors.New("no best frame recorded")

// Result is the outcome of evaluating one Params.
type Result struct {
	Params  Params
	Quality float64
	// Frame is the filtered frame, nil when capture or filtering failed.
	// Whoever receives a Result owns Frame.
	Frame *gocv.Mat
	// Actual is the size the device really delivered.
	Actual  Resolution
	Err     error
	Elapsed time.Duration
}

// OK reports whether the evaluation produced a frame.
func (r Result) OK() bool {
	return r.Frame != nil && r.Err == nil
}

// Release closes the frame, if any.
func (r *Result) Release() {
	if r.Frame != nil {
		r.Frame.Close()
		r.Frame = nil
	}
}

// Record is a snapshot of the best configuration seen so far.
type Record struct {
	Found     bool       `json:"found"`
	Quality   float64    `json:"quality"`
	Params    Params     `json:"params"`
	Actual    Resolution `json:"actual"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Tracker keeps the best Result under a strict greater-than rule. It is
// safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	best    Record
	frame   *gocv.Mat
	offered int
}

// NewTracker returns an empty tracker with quality 0.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Offer takes ownership of r.Frame. If r beats the current best strictly,
// it becomes the new best and Offer returns true; otherwise the frame is
// released. Results without a frame never win.
func (t *Tracker) Offer(r Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.offered++

	if !r.OK() || r.Quality <= t.best.Quality {
		r.Release()
		return false
	}

	if t.frame != nil {
		t.frame.Close()
	}
	t.frame = r.Frame
	t.best = Record{
		Found:     true,
		Quality:   r.Quality,
		Params:    r.Params,
		Actual:    r.Actual,
		UpdatedAt: time.Now(),
	}
	return true
}

// Best returns a snapshot of the current record.
func (t *Tracker) Best() Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.best
}

// Offered returns how many results have been offered.
func (t *Tracker) Offered() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offered
}

// Frame returns a copy of the best frame. The caller must close it.
func (t *Tracker) Frame() (gocv.Mat, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.frame == nil {
		return gocv.NewMat(), ErrNoBest
	}
	return t.frame.Clone(), nil
}

// JPEG encodes the best frame.
func (t *Tracker) JPEG() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.frame == nil {
		return nil, ErrNoBest
	}

	buf, err := gocv.IMEncode(".jpg", *t.frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the best frame. The record itself is kept.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frame != nil {
		t.frame.Close()
		t.frame = nil
	}
}
