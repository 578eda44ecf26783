// Package sweep searches a grid of capture and filter settings for the
// configuration whose filtered frame scores highest.
package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses the WxH form, e.g. "1280x720".
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("resolution %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution %q: bad width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution %q: bad height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q: dimensions must be positive", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Params is one configuration under test.
type Params struct {
	Resolution Resolution `json:"resolution"`
	Diameter   int        `json:"diameter"`
	SigmaColor float64    `json:"sigma_color"`
	SigmaSpace float64    `json:"sigma_space"`
}

func (p Params) String() string {
	return fmt.Sprintf("%s d=%d sigmaColor=%g sigmaSpace=%g",
		p.Resolution, p.Diameter, p.SigmaColor, p.SigmaSpace)
}

// Grid holds the candidate values for each dimension.
type Grid struct {
	Resolutions []Resolution
	Diameters   []int
	SigmaColors []float64
	SigmaSpaces []float64
}

// Size is the number of combinations in the full product.
func (g Grid) Size() int {
	return len(g.Resolutions) * len(g.Diameters) * len(g.SigmaColors) * len(g.SigmaSpaces)
}

// Enumerate returns the Cartesian product with resolution varying slowest
// and space sigma fastest. A positive limit keeps only the first limit
// combinations in that order.
func (g Grid) Enumerate(limit int) []Params {
	n := g.Size()
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Params, 0, n)
	for _, r := range g.Resolutions {
		for _, d := range g.Diameters {
			for _, sc := range g.SigmaColors {
				for _, ss := range g.SigmaSpaces {
					if len(out) == n {
						return out
					}
					out = append(out, Params{
						Resolution: r,
						Diameter:   d,
						SigmaColor: sc,
						SigmaSpace: ss,
					})
				}
			}
		}
	}
	return out
}
