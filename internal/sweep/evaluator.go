package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ayusman/opticam/internal/filter"
	"gocv.io/x/gocv"
)

// FrameSource delivers a frame captured at the requested size.
// capture.Device satisfies it.
type FrameSource interface {
	Grab(ctx context.Context, width, height int) (*gocv.Mat, error)
}

// Smoother filters a frame into a new Mat owned by the caller.
// filter.Bilateral satisfies it.
type Smoother interface {
	Smooth(src gocv.Mat, diameter int, sigmaColor, sigmaSpace float64) (gocv.Mat, error)
}

// Evaluator runs capture, smoothing and scoring for a single Params.
type Evaluator struct {
	source   FrameSource
	smoother Smoother
	metric   filter.Metric
}

// NewEvaluator builds an Evaluator. A nil metric means filter.PixelSum.
func NewEvaluator(source FrameSource, smoother Smoother, metric filter.Metric) *Evaluator {
	if metric == nil {
		metric = filter.PixelSum{}
	}
	return &Evaluator{source: source, smoother: smoother, metric: metric}
}

// Metric returns the scoring metric in use.
func (e *Evaluator) Metric() filter.Metric {
	return e.metric
}

// Evaluate never fails: any capture, filter or scoring error is logged and
// reported as a zero-quality Result without a frame.
func (e *Evaluator) Evaluate(ctx context.Context, p Params) (res Result) {
	start := time.Now()
	res.Params = p

	defer func() {
		if r := recover(); r != nil {
			res.Release()
			res.Quality = 0
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		if res.Err != nil && ctx.Err() == nil {
			log.Printf("Error evaluating %s: %v", p, res.Err)
		}
	}()

	raw, err := e.source.Grab(ctx, p.Resolution.Width, p.Resolution.Height)
	if err != nil {
		res.Err = fmt.Errorf("capture: %w", err)
		return res
	}
	defer raw.Close()

	res.Actual = Resolution{Width: raw.Cols(), Height: raw.Rows()}

	smoothed, err := e.smoother.Smooth(*raw, p.Diameter, p.SigmaColor, p.SigmaSpace)
	owned := false
	defer func() {
		if !owned {
			smoothed.Close()
		}
	}()
	if err != nil {
		res.Err = fmt.Errorf("filter: %w", err)
		return res
	}

	quality, err := e.metric.Score(smoothed)
	if err != nil {
		res.Err = fmt.Errorf("score %s: %w", e.metric.Name(), err)
		return res
	}

	owned = true
	res.Frame = &smoothed
	res.Quality = quality
	return res
}
