package server

import (
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/opticam/internal/sweep"
)

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_UnconfiguredRoutes(t *testing.T) {
	s := New(Config{})

	paths := []string{"/", "/index.html", "/api/best", "/api/best/stream", "/api/runs", "/api/sweep", "/api/events"}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

// fakeControl records Start/Stop calls.
type fakeControl struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	last    sweep.Summary
}

func (c *fakeControl) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.running = true
	return nil
}

func (c *fakeControl) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.running = false
}

func (c *fakeControl) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeControl) State() sweep.State {
	if c.Running() {
		return sweep.StateSleeping
	}
	return sweep.StateIdle
}

func (c *fakeControl) LastSummary() sweep.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func offerFrame(t *testing.T, tracker *sweep.Tracker, quality float64) {
	t.Helper()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	res := sweep.Result{
		Params: sweep.Params{
			Resolution: sweep.Resolution{Width: 640, Height: 480},
			Diameter:   9,
			SigmaColor: 75,
			SigmaSpace: 50,
		},
		Quality: quality,
		Frame:   &frame,
		Actual:  sweep.Resolution{Width: 64, Height: 48},
	}
	if !tracker.Offer(res) {
		t.Fatalf("Offer(%v) was not accepted", quality)
	}
}

func TestServer_Best(t *testing.T) {
	tracker := sweep.NewTracker()
	defer tracker.Close()
	s := New(Config{Tracker: tracker})

	t.Run("empty tracker reports not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var got sweep.Record
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Found {
			t.Errorf("expected found=false before any sweep, got %+v", got)
		}

		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best/frame", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("frame: expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	offerFrame(t, tracker, 1234)

	t.Run("returns the best record", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best", nil))

		var got sweep.Record
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !got.Found || got.Quality != 1234 || got.Params.Diameter != 9 {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("returns the best frame as JPEG", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best/frame", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("expected Content-Type image/jpeg, got %s", ct)
		}
		body := rec.Body.Bytes()
		if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
			t.Error("body does not start with a JPEG SOI marker")
		}
	})

	t.Run("returns a scaled thumbnail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best/thumbnail?size=32", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		img, err := jpeg.Decode(rec.Body)
		if err != nil {
			t.Fatalf("thumbnail is not a JPEG: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
			t.Errorf("thumbnail size = %dx%d, want 32x24", b.Dx(), b.Dy())
		}
	})

	t.Run("rejects a bad thumbnail size", func(t *testing.T) {
		for _, size := range []string{"0", "abc", "100000"} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/best/thumbnail?size="+size, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("size=%s: expected status %d, got %d", size, http.StatusBadRequest, rec.Code)
			}
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, path := range []string{"/api/best", "/api/best/frame", "/api/best/thumbnail", "/api/best/stream"} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_SweepControl(t *testing.T) {
	control := &fakeControl{}
	s := New(Config{Control: control})

	tests := []struct {
		name        string
		method      string
		path        string
		wantStatus  int
		wantRunning bool
	}{
		{"status while idle", http.MethodGet, "/api/sweep", http.StatusOK, false},
		{"start", http.MethodPost, "/api/sweep/start", http.StatusAccepted, true},
		{"status while running", http.MethodGet, "/api/sweep", http.StatusOK, true},
		{"start with GET is rejected", http.MethodGet, "/api/sweep/start", http.StatusMethodNotAllowed, true},
		{"stop", http.MethodPost, "/api/sweep/stop", http.StatusOK, false},
		{"unknown action", http.MethodPost, "/api/sweep/pause", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if control.Running() != tt.wantRunning {
				t.Errorf("running = %v, want %v", control.Running(), tt.wantRunning)
			}
			if rec.Code != http.StatusOK && rec.Code != http.StatusAccepted {
				return
			}

			var got struct {
				Running bool   `json:"running"`
				State   string `json:"state"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.Running != tt.wantRunning {
				t.Errorf("response running = %v, want %v", got.Running, tt.wantRunning)
			}
		})
	}

	if control.starts != 1 || control.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1 and 1", control.starts, control.stops)
	}
}

func TestServer_HealthReportsSweepState(t *testing.T) {
	s := New(Config{Control: &fakeControl{}})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["sweep"] != "idle" {
		t.Errorf("expected sweep 'idle', got %v", response["sweep"])
	}
}
