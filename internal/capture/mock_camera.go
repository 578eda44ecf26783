package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames, or synthesizes uniform frames
// at the requested resolution, for testing.
type MockCamera struct {
	frames    []*gocv.Mat
	index     int
	loop      bool
	mu        sync.Mutex
	running   bool
	synthetic bool
	fill      gocv.Scalar
	width     int
	height    int
	failNext  int
	reads     int
	sizes     [][2]int
}

// NewMockCamera returns a camera that replays frames in order.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		width:  DefaultWidth,
		height: DefaultHeight,
	}
}

// NewSyntheticCamera returns a camera whose frames are 3-channel images of
// the current resolution with every sample set to value.
func NewSyntheticCamera(value float64) *MockCamera {
	return &MockCamera{
		synthetic: true,
		fill:      gocv.NewScalar(value, value, value, 0),
		width:     DefaultWidth,
		height:    DefaultHeight,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	c.reads++

	if c.failNext > 0 {
		c.failNext--
		return nil, fmt.Errorf("mock read failure: %w", ErrNoFrame)
	}

	if c.synthetic {
		frame := gocv.NewMatWithSize(c.height, c.width, gocv.MatTypeCV8UC3)
		frame.SetTo(c.fill)
		return &frame, nil
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available: %w", ErrNoFrame)
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames: %w", ErrNoFrame)
		}
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width = width
	c.height = height
	c.sizes = append(c.sizes, [2]int{width, height})
	return nil
}

func (c *MockCamera) Resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// FailNext makes the next n reads fail.
func (c *MockCamera) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Reads returns how many reads were attempted.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// ResolutionChanges returns every resolution set, in order.
func (c *MockCamera) ResolutionChanges() [][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]int, len(c.sizes))
	copy(out, c.sizes)
	return out
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
	c.reads = 0
	c.sizes = nil
}
