package filter

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// Metric reduces a frame to a single score. Higher is better.
type Metric interface {
	Name() string
	Score(frame gocv.Mat) (float64, error)
}

// PixelSum adds every sample of every channel. It rewards brightness, not
// sharpness, and is kept as the default for parity with earlier results.
type PixelSum struct{}

func (PixelSum) Name() string { return "pixelsum" }

func (PixelSum) Score(frame gocv.Mat) (float64, error) {
	if frame.Empty() {
		return 0, ErrEmptyFrame
	}
	s := frame.Sum()
	return s.Val1 + s.Val2 + s.Val3 + s.Val4, nil
}

// Sharpness is the variance of the Laplacian of the grayscale frame.
// Blurrier frames score lower regardless of exposure.
type Sharpness struct{}

func (Sharpness) Name() string { return "sharpness" }

func (Sharpness) Score(frame gocv.Mat) (float64, error) {
	if frame.Empty() {
		return 0, ErrEmptyFrame
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd, nil
}

var metrics = map[string]Metric{
	PixelSum{}.Name():  PixelSum{},
	Sharpness{}.Name(): Sharpness{},
}

// MetricByName looks up a registered metric.
func MetricByName(name string) (Metric, error) {
	m, ok := metrics[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q (available: %v)", name, MetricNames())
	}
	return m, nil
}

// MetricNames lists registered metrics in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(metrics))
	for n := range metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
