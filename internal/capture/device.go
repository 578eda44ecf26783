package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// ErrDeviceStopped is returned by Grab once the owner loop has exited.
var ErrDeviceStopped = errors.New("capture device stopped")

// RetryPolicy bounds how often a failed read is retried.
type RetryPolicy struct {
	// Attempts is the total number of reads per grab. Values below 1 mean a single read.
	Attempts int
	// Backoff is the pause between failed reads.
	Backoff time.Duration
}

// DefaultRetryPolicy returns 10 attempts with a 20ms pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 10, Backoff: 20 * time.Millisecond}
}

type grabRequest struct {
	ctx    context.Context
	width  int
	height int
	reply  chan grabReply
}

type grabReply struct {
	frame *gocv.Mat
	err   error
}

// Device serializes all access to a Camera through a single owner goroutine.
// Setting the resolution and reading a frame happen as one step, so
// concurrent callers never see each other's configuration.
type Device struct {
	camera     Camera
	retry      RetryPolicy
	settle     int
	requests   chan grabRequest
	done       chan struct{}
	configured bool
}

// NewDevice wraps camera. settleFrames reads are discarded after every
// resolution change so a buffered frame of the old size is not returned.
func NewDevice(camera Camera, retry RetryPolicy, settleFrames int) *Device {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	if settleFrames < 0 {
		settleFrames = 0
	}
	return &Device{
		camera:   camera,
		retry:    retry,
		settle:   settleFrames,
		requests: make(chan grabRequest),
		done:     make(chan struct{}),
	}
}

// Run serves grab requests until ctx is cancelled. It must be called once.
func (d *Device) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			req.reply <- d.serve(req)
		}
	}
}

// Done is closed when Run returns.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Grab returns a frame captured at width x height. The caller owns the
// returned Mat and must close it.
func (d *Device) Grab(ctx context.Context, width, height int) (*gocv.Mat, error) {
	req := grabRequest{
		ctx:    ctx,
		width:  width,
		height: height,
		reply:  make(chan grabReply, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrDeviceStopped
	case d.requests <- req:
	}

	select {
	case r := <-req.reply:
		return r.frame, r.err
	case <-ctx.Done():
		// The owner always replies; release whatever it produces.
		go func() {
			if r := <-req.reply; r.frame != nil {
				r.frame.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *Device) serve(req grabRequest) grabReply {
	if err := req.ctx.Err(); err != nil {
		return grabReply{err: err}
	}

	w, h := d.camera.Resolution()
	if !d.configured || w != req.width || h != req.height {
		if err := d.camera.SetResolution(req.width, req.height); err != nil {
			return grabReply{err: fmt.Errorf("set resolution: %w", err)}
		}
		d.configured = true

		for i := 0; i < d.settle; i++ {
			if stale, err := d.camera.ReadFrame(); err == nil {
				stale.Close()
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= d.retry.Attempts; attempt++ {
		frame, err := d.camera.ReadFrame()
		if err == nil {
			return grabReply{frame: frame}
		}
		lastErr = err

		if attempt == d.retry.Attempts || d.retry.Backoff <= 0 {
			continue
		}
		select {
		case <-req.ctx.Done():
			return grabReply{err: req.ctx.Err()}
		case <-time.After(d.retry.Backoff):
		}
	}

	return grabReply{err: fmt.Errorf("grab %dx%d after %d attempts: %w",
		req.width, req.height, d.retry.Attempts, lastErr)}
}
