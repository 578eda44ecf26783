// Package filter smooths captured frames and scores the result.
package filter

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrEmptyFrame is returned when asked to process an empty Mat.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrBadDiameter is returned for a filter diameter that is not positive.
	ErrBadDiameter = errors.New("filter diameter must be positive")
)

// Bilateral applies OpenCV's edge-preserving bilateral filter.
type Bilateral struct{}

// Smooth filters src into a new Mat owned by the caller.
//
// The diameter must be positive, matching the configured sweep grid.
// Large diameters are slow at 4K; 5 to 9 is the usual range for
// real-time use.
func (Bilateral) Smooth(src gocv.Mat, diameter int, sigmaColor, sigmaSpace float64) (out gocv.Mat, err error) {
	if src.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	if diameter <= 0 {
		return gocv.NewMat(), fmt.Errorf("%w, got %d", ErrBadDiameter, diameter)
	}

	dst := gocv.NewMat()
	defer func() {
		if r := recover(); r != nil {
			dst.Close()
			out = gocv.NewMat()
			err = fmt.Errorf("bilateral filter d=%d: %v", diameter, r)
		}
	}()

	gocv.BilateralFilter(src, &dst, diameter, sigmaColor, sigmaSpace)

	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("bilateral filter d=%d produced no output", diameter)
	}

	return dst, nil
}
