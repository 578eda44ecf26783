// Package hook runs an external command whenever a sweep finds a better
// configuration.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ayusman/opticam/internal/sweep"
)

// Event is written to the command's stdin as JSON.
type Event struct {
	Type    string           `json:"type"`
	Quality float64          `json:"quality"`
	Params  sweep.Params     `json:"params"`
	Actual  sweep.Resolution `json:"actual"`
	At      time.Time        `json:"at"`
}

// NewImproveEvent builds the event for a new best record.
func NewImproveEvent(rec sweep.Record) Event {
	return Event{
		Type:    "improved",
		Quality: rec.Quality,
		Params:  rec.Params,
		Actual:  rec.Actual,
		At:      rec.UpdatedAt,
	}
}

// Response is the optional JSON a command may print on stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Executor handles the execution of the hook command with timeout support.
type Executor struct {
	argv    []string
	timeout time.Duration
}

// NewExecutor creates an Executor for command, split on whitespace.
func NewExecutor(command string, timeout time.Duration) (*Executor, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty hook command")
	}
	return &Executor{argv: argv, timeout: timeout}, nil
}

// Execute runs the command with ev on stdin. Empty output counts as
// success; otherwise stdout must be a Response, which is returned as is.
func (e *Executor) Execute(ctx context.Context, ev Event) (*Response, error) {
	// Create context with timeout
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	cmd.Stdin = bytes.NewReader(payload)

	// Capture stdout and stderr
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("hook timeout after %s", e.timeout)
	}

	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("hook failed: %w, stderr: %s", err, msg)
		}
		return nil, fmt.Errorf("hook failed: %w", err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return &Response{Success: true}, nil
	}

	var response Response
	if err := json.Unmarshal(out, &response); err != nil {
		return nil, fmt.Errorf("failed to parse hook response: %w, stdout: %s", err, out)
	}

	return &response, nil
}
