package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

var errCaptureFailed = errors.New("capture failed")

// frameOf returns a present frame for building Results by hand.
func frameOf() *gocv.Mat {
	m := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV8UC1)
	return &m
}

// fakeSource hands out small frames whose size is the requested one
// scaled down by 16, and fails for resolutions listed in fail.
type fakeSource struct {
	mu    sync.Mutex
	fail  map[Resolution]bool
	grabs atomic.Int32
	block chan struct{}
}

func (s *fakeSource) Grab(ctx context.Context, width, height int) (*gocv.Mat, error) {
	s.grabs.Add(1)

	if s.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.block:
		}
	}

	s.mu.Lock()
	failing := s.fail[Resolution{width, height}]
	s.mu.Unlock()
	if failing {
		return nil, errCaptureFailed
	}

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height/16, width/16, gocv.MatTypeCV8UC3)
	return &m, nil
}

// fakeSmoother produces a 1x1 float frame holding quality(p), where p is
// rebuilt from the source frame size and the filter arguments.
type fakeSmoother struct {
	quality func(p Params) float64
	panics  bool
}

func (f fakeSmoother) Smooth(src gocv.Mat, d int, sc, ss float64) (gocv.Mat, error) {
	if f.panics {
		panic("filter exploded")
	}
	p := Params{
		Resolution: Resolution{src.Cols() * 16, src.Rows() * 16},
		Diameter:   d,
		SigmaColor: sc,
		SigmaSpace: ss,
	}
	out := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV64FC1)
	out.SetDoubleAt(0, 0, f.quality(p))
	return out, nil
}

// valueMetric reads back the value written by fakeSmoother.
type valueMetric struct{}

func (valueMetric) Name() string { return "value" }

func (valueMetric) Score(frame gocv.Mat) (float64, error) {
	return frame.GetDoubleAt(0, 0), nil
}

type memRecorder struct {
	mu       sync.Mutex
	begun    []Summary
	results  map[string][]Result
	finished []Summary
}

func newMemRecorder() *memRecorder {
	return &memRecorder{results: make(map[string][]Result)}
}

func (r *memRecorder) BeginRun(s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, s)
	return nil
}

func (r *memRecorder) RecordResult(runID string, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.Frame = nil
	r.results[runID] = append(r.results[runID], res)
	return nil
}

func (r *memRecorder) FinishRun(s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	return nil
}
