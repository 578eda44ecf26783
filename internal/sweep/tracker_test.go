package sweep

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramsWith(d int) Params {
	return Params{Resolution: Resolution{640, 480}, Diameter: d, SigmaColor: 50, SigmaSpace: 50}
}

func TestTracker_StartsEmpty(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	best := tr.Best()
	assert.False(t, best.Found)
	assert.Zero(t, best.Quality)

	_, err := tr.JPEG()
	assert.ErrorIs(t, err, ErrNoBest)

	f, err := tr.Frame()
	defer f.Close()
	assert.ErrorIs(t, err, ErrNoBest)
}

func TestTracker_SingleResultBecomesBest(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	p := paramsWith(5)
	require.True(t, tr.Offer(Result{Params: p, Quality: 12345, Frame: frameOf()}))

	best := tr.Best()
	assert.True(t, best.Found)
	assert.Equal(t, 12345.0, best.Quality)
	assert.Equal(t, p, best.Params)
}

func TestTracker_StrictlyGreaterWins(t *testing.T) {
	tests := []struct {
		name      string
		qualities []float64
		wantBest  float64
		wantIndex int
	}{
		{name: "increasing", qualities: []float64{1, 2, 3}, wantBest: 3, wantIndex: 2},
		{name: "decreasing", qualities: []float64{3, 2, 1}, wantBest: 3, wantIndex: 0},
		{name: "tie keeps first", qualities: []float64{5, 5}, wantBest: 5, wantIndex: 0},
		{name: "tie after improvement keeps earlier", qualities: []float64{1, 7, 3, 7}, wantBest: 7, wantIndex: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			defer tr.Close()

			prev := 0.0
			for i, q := range tt.qualities {
				tr.Offer(Result{Params: paramsWith(i + 1), Quality: q, Frame: frameOf()})

				cur := tr.Best().Quality
				assert.GreaterOrEqual(t, cur, prev, "best quality must never decrease")
				prev = cur
			}

			best := tr.Best()
			assert.Equal(t, tt.wantBest, best.Quality)
			assert.Equal(t, paramsWith(tt.wantIndex+1), best.Params)
		})
	}
}

func TestTracker_AbsentFrameNeverWins(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	assert.False(t, tr.Offer(Result{Params: paramsWith(5), Quality: 0}))
	assert.False(t, tr.Offer(Result{Params: paramsWith(9), Quality: 100}), "no frame")
	assert.False(t, tr.Offer(Result{Params: paramsWith(15), Quality: 100, Frame: frameOf(), Err: errors.New("boom")}))

	assert.False(t, tr.Best().Found)
	assert.Equal(t, 3, tr.Offered())
}

func TestTracker_AllZeroSweepLeavesEmpty(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	for i := 0; i < 5; i++ {
		assert.False(t, tr.Offer(Result{Params: paramsWith(i), Quality: 0, Frame: frameOf()}))
	}
	assert.False(t, tr.Best().Found)
}

func TestTracker_CompletionOrderIndependent(t *testing.T) {
	a := Result{Params: paramsWith(5), Quality: 10}
	b := Result{Params: paramsWith(9), Quality: 20}

	for _, order := range [][]Result{{a, b}, {b, a}} {
		tr := NewTracker()
		for _, r := range order {
			r.Frame = frameOf()
			tr.Offer(r)
		}

		best := tr.Best()
		assert.Equal(t, 20.0, best.Quality)
		assert.Equal(t, b.Params, best.Params)
		tr.Close()
	}
}

func TestTracker_ConcurrentOffers(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Offer(Result{Params: paramsWith(i), Quality: float64(i), Frame: frameOf()})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, tr.Best().Quality)
	assert.Equal(t, paramsWith(100), tr.Best().Params)
	assert.Equal(t, 100, tr.Offered())
}

func TestTracker_FrameIsCopy(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	tr.Offer(Result{Params: paramsWith(5), Quality: 1, Frame: frameOf()})

	f, err := tr.Frame()
	require.NoError(t, err)
	f.Close()

	// The tracker's own frame must survive the caller closing its copy.
	again, err := tr.Frame()
	require.NoError(t, err)
	defer again.Close()
	assert.False(t, again.Empty())
}
