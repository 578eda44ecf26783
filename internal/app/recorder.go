package app

import (
	"time"

	"github.com/ayusman/opticam/internal/store"
	"github.com/ayusman/opticam/internal/sweep"
)

// storeRecorder persists sweep runs and results to the store.
type storeRecorder struct {
	store *store.Store
}

func (r *storeRecorder) BeginRun(s sweep.Summary) error {
	return r.store.Runs().Create(&store.Run{
		ID:             s.RunID,
		Metric:         s.Metric,
		Configurations: s.Configurations,
		StartedAt:      s.Started,
	})
}

func (r *storeRecorder) RecordResult(runID string, res sweep.Result) error {
	return r.store.Results().Add(sweepResultToStore(runID, res))
}

func (r *storeRecorder) FinishRun(s sweep.Summary) error {
	run := summaryToStoreRun(s)
	return r.store.Runs().Finish(run)
}

// sweepResultToStore converts a sweep.Result to a store.Result row.
func sweepResultToStore(runID string, res sweep.Result) *store.Result {
	row := &store.Result{
		RunID:        runID,
		Width:        res.Params.Resolution.Width,
		Height:       res.Params.Resolution.Height,
		Diameter:     res.Params.Diameter,
		SigmaColor:   res.Params.SigmaColor,
		SigmaSpace:   res.Params.SigmaSpace,
		Quality:      res.Quality,
		OK:           res.OK(),
		ActualWidth:  res.Actual.Width,
		ActualHeight: res.Actual.Height,
		ElapsedMs:    res.Elapsed.Milliseconds(),
	}
	if res.Err != nil {
		row.Error = res.Err.Error()
	}
	return row
}

// summaryToStoreRun converts a finished sweep.Summary to a store.Run.
func summaryToStoreRun(s sweep.Summary) *store.Run {
	finished := s.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	return &store.Run{
		ID:             s.RunID,
		Metric:         s.Metric,
		Configurations: s.Configurations,
		Evaluated:      s.Evaluated,
		Failures:       s.Failures,
		Improvements:   s.Improvements,
		Cancelled:      s.Cancelled,
		BestQuality:    s.Best.Quality,
		StartedAt:      s.Started,
		FinishedAt:     &finished,
	}
}
