// Package display shows frames in an OpenCV window.
package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrClosed is returned when drawing to a closed preview.
var ErrClosed = errors.New("preview closed")

// Preview owns one OpenCV window. The window is created on first use.
//
// HighGUI must be driven from the main thread on macOS. When Run is
// serving, every window call is handed to the goroutine running it;
// otherwise calls run on the caller's goroutine.
type Preview struct {
	title  string
	window *gocv.Window
	closed bool
	mu     sync.Mutex

	loopMu sync.Mutex
	calls  chan func()
	done   chan struct{}
}

// NewPreview returns a preview titled title.
func NewPreview(title string) *Preview {
	return &Preview{title: title}
}

// Run executes window calls on the calling goroutine until ctx is done.
func (p *Preview) Run(ctx context.Context) {
	calls := make(chan func())
	done := make(chan struct{})

	p.loopMu.Lock()
	p.calls, p.done = calls, done
	p.loopMu.Unlock()

	defer func() {
		p.loopMu.Lock()
		p.calls, p.done = nil, nil
		p.loopMu.Unlock()
		close(done)
	}()

	for {
		select {
		case fn := <-calls:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (p *Preview) serving() bool {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	return p.calls != nil
}

// do runs fn on the Run goroutine if one is serving, else inline.
func (p *Preview) do(fn func()) {
	p.loopMu.Lock()
	calls, done := p.calls, p.done
	p.loopMu.Unlock()

	if calls == nil {
		fn()
		return
	}

	finished := make(chan struct{})
	select {
	case calls <- func() {
		defer close(finished)
		fn()
	}:
		<-finished
	case <-done:
		fn()
	}
}

// Show draws frame and pumps the window's event loop once.
func (p *Preview) Show(frame gocv.Mat) (err error) {
	p.do(func() { err = p.show(frame) })
	return err
}

func (p *Preview) show(frame gocv.Mat) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if frame.Empty() {
		return errors.New("nothing to show: empty frame")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("show frame: %v", r)
		}
	}()

	if p.window == nil {
		p.window = gocv.NewWindow(p.title)
	}
	p.window.IMShow(frame)
	p.window.WaitKey(1)
	return nil
}

// Compare shows live and best next to each other, live on the left.
func (p *Preview) Compare(live, best gocv.Mat) error {
	combined, err := SideBySide(live, best)
	if err != nil {
		return err
	}
	defer combined.Close()

	return p.Show(combined)
}

// Wait blocks for a key press for up to ms milliseconds (0 waits forever)
// and returns the key code, or -1 on timeout.
func (p *Preview) Wait(ms int) (key int) {
	p.do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		key = -1
		if !p.closed && p.window != nil {
			key = p.window.WaitKey(ms)
		}
	})
	return key
}

// Close destroys the window.
func (p *Preview) Close() (err error) {
	p.do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.closed = true
		if p.window != nil {
			err = p.window.Close()
			p.window = nil
		}
	})
	return err
}

// SideBySide scales right to left's height and joins them horizontally.
// Both frames must have the same type.
func SideBySide(left, right gocv.Mat) (gocv.Mat, error) {
	if left.Empty() || right.Empty() {
		return gocv.NewMat(), errors.New("side by side: empty frame")
	}
	if left.Type() != right.Type() {
		return gocv.NewMat(), fmt.Errorf("side by side: type mismatch %v vs %v", left.Type(), right.Type())
	}

	scaled := right
	if right.Rows() != left.Rows() {
		width := right.Cols() * left.Rows() / right.Rows()
		if width < 1 {
			width = 1
		}
		scaled = gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(right, &scaled, image.Pt(width, left.Rows()), 0, 0, gocv.InterpolationArea)
	}

	out := gocv.NewMat()
	gocv.Hconcat(left, scaled, &out)
	return out, nil
}
