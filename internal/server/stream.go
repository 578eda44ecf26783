package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/ayusman/opticam/internal/sweep"
)

const (
	// StreamPollInterval is how often the MJPEG stream checks for a new best.
	StreamPollInterval = 200 * time.Millisecond
	// DefaultThumbnailSize bounds both sides of /api/best/thumbnail.
	DefaultThumbnailSize = 320
	maxThumbnailSize     = 1920
)

// BestHandler serves the tracker's best record and frame.
type BestHandler struct {
	tracker *sweep.Tracker
}

// NewBestHandler creates a new BestHandler reading from tracker.
func NewBestHandler(tracker *sweep.Tracker) *BestHandler {
	return &BestHandler{tracker: tracker}
}

// ServeRecord handles GET /api/best.
func (h *BestHandler) ServeRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.tracker.Best()); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ServeFrame handles GET /api/best/frame with the best frame as JPEG.
func (h *BestHandler) ServeFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := h.tracker.JPEG()
	if err != nil {
		if errors.Is(err, sweep.ErrNoBest) {
			http.Error(w, "No best frame yet", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Write(data)
}

// ServeThumbnail handles GET /api/best/thumbnail?size=N, the best frame
// scaled to fit an NxN box.
func (h *BestHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size := DefaultThumbnailSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxThumbnailSize {
			http.Error(w, "Invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	frame, err := h.tracker.Frame()
	defer frame.Close()
	if err != nil {
		http.Error(w, "No best frame yet", http.StatusNotFound)
		return
	}

	img, err := frame.ToImage()
	if err != nil {
		http.Error(w, "Failed to convert frame", http.StatusInternalServerError)
		return
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imaging.Encode(w, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		log.Printf("Failed to encode thumbnail: %v", err)
	}
}

// ServeStream streams the best frame as MJPEG, pushing a new part each
// time the record improves.
func (h *BestHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(StreamPollInterval)
	defer ticker.Stop()

	var sent time.Time
	for {
		if best := h.tracker.Best(); best.Found && best.UpdatedAt.After(sent) {
			data, err := h.tracker.JPEG()
			if err == nil {
				fmt.Fprintf(w, "--frame\r\n")
				fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
				fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
				w.Write(data)
				fmt.Fprintf(w, "\r\n")

				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
				sent = best.UpdatedAt
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
