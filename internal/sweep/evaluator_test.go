package sweep

import (
	"bytes"
	"context"
	"log"
	"os"
	"testing"

	"github.com/ayusman/opticam/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestEvaluator_Success(t *testing.T) {
	src := &fakeSource{}
	e := NewEvaluator(src, fakeSmoother{quality: func(p Params) float64 {
		return float64(p.Diameter) * p.SigmaColor
	}}, valueMetric{})

	p := Params{Resolution: Resolution{640, 480}, Diameter: 9, SigmaColor: 75, SigmaSpace: 50}
	res := e.Evaluate(context.Background(), p)
	defer res.Release()

	require.NoError(t, res.Err)
	require.True(t, res.OK())
	assert.Equal(t, 675.0, res.Quality)
	assert.Equal(t, p, res.Params)
	assert.Equal(t, Resolution{40, 30}, res.Actual)
}

func TestEvaluator_CaptureFailureIsLoggedNotRaised(t *testing.T) {
	buf := captureLog(t)

	res640 := Resolution{640, 480}
	src := &fakeSource{fail: map[Resolution]bool{res640: true}}
	e := NewEvaluator(src, fakeSmoother{quality: func(Params) float64 { return 1 }}, valueMetric{})

	res := e.Evaluate(context.Background(), Params{Resolution: res640, Diameter: 5, SigmaColor: 50, SigmaSpace: 50})

	assert.False(t, res.OK())
	assert.Nil(t, res.Frame)
	assert.Zero(t, res.Quality)
	assert.ErrorIs(t, res.Err, errCaptureFailed)
	assert.Contains(t, buf.String(), "Error evaluating 640x480 d=5")
}

func TestEvaluator_FilterPanicDowngraded(t *testing.T) {
	buf := captureLog(t)

	e := NewEvaluator(&fakeSource{}, fakeSmoother{panics: true}, valueMetric{})
	res := e.Evaluate(context.Background(), paramsWith(5))

	assert.False(t, res.OK())
	assert.Zero(t, res.Quality)
	assert.ErrorContains(t, res.Err, "filter exploded")
	assert.Contains(t, buf.String(), "filter exploded")
}

type panickyMetric struct{}

func (panickyMetric) Name() string { return "panicky" }

func (panickyMetric) Score(gocv.Mat) (float64, error) { panic("metric exploded") }

func TestEvaluator_MetricPanicReleasesFrame(t *testing.T) {
	buf := captureLog(t)

	e := NewEvaluator(&fakeSource{}, fakeSmoother{quality: func(Params) float64 { return 7 }}, panickyMetric{})
	res := e.Evaluate(context.Background(), paramsWith(5))

	assert.False(t, res.OK())
	assert.Nil(t, res.Frame)
	assert.Zero(t, res.Quality)
	assert.ErrorContains(t, res.Err, "panic: metric exploded")
	assert.Contains(t, buf.String(), "metric exploded")
}

func TestEvaluator_CancelledContextNotLogged(t *testing.T) {
	buf := captureLog(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{block: make(chan struct{})}
	e := NewEvaluator(src, fakeSmoother{quality: func(Params) float64 { return 1 }}, valueMetric{})
	res := e.Evaluate(ctx, paramsWith(5))

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestEvaluator_RealFilterAndPixelSum(t *testing.T) {
	e := NewEvaluator(&fakeSource{}, filter.Bilateral{}, nil)
	assert.Equal(t, "pixelsum", e.Metric().Name())

	res := e.Evaluate(context.Background(), paramsWith(5))
	defer res.Release()

	require.NoError(t, res.Err)
	// fakeSource frames are black.
	assert.Zero(t, res.Quality)
	assert.NotNil(t, res.Frame)
}
