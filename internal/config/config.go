// Package config holds opticam's runtime settings and command-line parsing.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/opticam/internal/capture"
	"github.com/ayusman/opticam/internal/filter"
	"github.com/ayusman/opticam/internal/sweep"
)

// AppName is used for the data directory and log file names.
const AppName = "opticam"

// Config holds every setting of a run.
type Config struct {
	DeviceID int
	FPS      int

	Resolutions []sweep.Resolution
	Diameters   []int
	SigmaColors []float64
	SigmaSpaces []float64
	Limit       int
	Workers     int
	Metric      string

	RetryAttempts int
	RetryBackoff  time.Duration
	SettleFrames  int

	Loop     bool
	Interval time.Duration

	Display  bool
	Baseline sweep.Resolution

	DataDir string
	DBPath  string
	NoStore bool
	LogFile string

	Listen string
	Tray   bool

	HookCommand string
	HookTimeout time.Duration
	HookEvery   time.Duration
}

// Default returns the grid and settings of a standard sweep: 4 resolutions,
// 6 diameters, 6 color and 6 space sigmas, capped at 200 configurations.
func Default() Config {
	retry := capture.DefaultRetryPolicy()
	return Config{
		DeviceID: 0,
		FPS:      capture.DefaultFPS,
		Resolutions: []sweep.Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
			{Width: 3840, Height: 2160},
		},
		Diameters:     []int{5, 9, 15, 21, 25, 30},
		SigmaColors:   []float64{50, 75, 100, 125, 150, 200},
		SigmaSpaces:   []float64{50, 75, 100, 125, 150, 200},
		Limit:         200,
		Workers:       sweep.DefaultWorkers,
		Metric:        filter.PixelSum{}.Name(),
		RetryAttempts: retry.Attempts,
		RetryBackoff:  retry.Backoff,
		SettleFrames:  1,
		Interval:      sweep.DefaultInterval,
		Baseline:      sweep.Resolution{Width: capture.DefaultWidth, Height: capture.DefaultHeight},
		HookTimeout:   5 * time.Second,
		HookEvery:     time.Second,
	}
}

// Grid returns the candidate sets as a sweep.Grid.
func (c Config) Grid() sweep.Grid {
	return sweep.Grid{
		Resolutions: c.Resolutions,
		Diameters:   c.Diameters,
		SigmaColors: c.SigmaColors,
		SigmaSpaces: c.SigmaSpaces,
	}
}

// Retry returns the capture retry policy.
func (c Config) Retry() capture.RetryPolicy {
	return capture.RetryPolicy{Attempts: c.RetryAttempts, Backoff: c.RetryBackoff}
}

// Parse reads flags from args on top of Default and fills path defaults
// under the user's home directory.
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.IntVar(&cfg.DeviceID, "device", cfg.DeviceID, "camera device index")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "requested capture frame rate")
	fs.Var((*resolutionList)(&cfg.Resolutions), "resolutions", "comma-separated WxH candidates")
	fs.Var((*intList)(&cfg.Diameters), "diameters", "comma-separated bilateral filter diameters")
	fs.Var((*floatList)(&cfg.SigmaColors), "sigma-color", "comma-separated color sigmas")
	fs.Var((*floatList)(&cfg.SigmaSpaces), "sigma-space", "comma-separated space sigmas")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "evaluate at most this many configurations (0 = all)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "size of the evaluation pool")
	fs.StringVar(&cfg.Metric, "metric", cfg.Metric, "quality metric: "+strings.Join(filter.MetricNames(), ", "))
	fs.IntVar(&cfg.RetryAttempts, "retries", cfg.RetryAttempts, "frame reads per configuration before giving up")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "pause between failed reads")
	fs.IntVar(&cfg.SettleFrames, "settle", cfg.SettleFrames, "frames discarded after a resolution change")
	fs.BoolVar(&cfg.Loop, "loop", cfg.Loop, "repeat the sweep until interrupted")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "pause between sweeps in loop mode")
	fs.BoolVar(&cfg.Display, "display", cfg.Display, "show the best frame next to a live frame")
	baseline := cfg.Baseline.String()
	fs.StringVar(&baseline, "baseline", baseline, "live frame resolution for the comparison view")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "data directory (default ~/.opticam)")
	fs.StringVar(&cfg.DBPath, "db", "", "sweep history database (default <data-dir>/opticam.db)")
	fs.BoolVar(&cfg.NoStore, "no-store", cfg.NoStore, "do not record sweep history")
	fs.StringVar(&cfg.LogFile, "log", "", "log file (default <data-dir>/opticam.log)")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP status address, e.g. :8080 (empty disables)")
	fs.BoolVar(&cfg.Tray, "tray", cfg.Tray, "run with a system tray menu")
	fs.StringVar(&cfg.HookCommand, "on-improve", cfg.HookCommand, "command run with each new best as JSON on stdin")
	fs.DurationVar(&cfg.HookTimeout, "on-improve-timeout", cfg.HookTimeout, "time limit for the on-improve command")
	fs.DurationVar(&cfg.HookEvery, "on-improve-every", cfg.HookEvery, "minimum spacing of on-improve runs (0 = every improvement)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	res, err := sweep.ParseResolution(baseline)
	if err != nil {
		return Config{}, fmt.Errorf("-baseline: %w", err)
	}
	cfg.Baseline = res

	if err := cfg.fillPaths(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fillPaths() error {
	if c.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(homeDir, "."+AppName)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, AppName+".db")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, AppName+".log")
	}
	return nil
}

// Validate checks that the settings describe a runnable sweep.
func (c Config) Validate() error {
	var errs []error

	if c.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("device must be >= 0, got %d", c.DeviceID))
	}
	if c.Grid().Size() == 0 {
		errs = append(errs, errors.New("every candidate list needs at least one value"))
	}
	for _, d := range c.Diameters {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w, got %d", filter.ErrBadDiameter, d))
		}
	}
	for _, s := range append(append([]float64{}, c.SigmaColors...), c.SigmaSpaces...) {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("sigma must be positive, got %g", s))
		}
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be >= 0, got %d", c.Limit))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retries must be positive, got %d", c.RetryAttempts))
	}
	if c.RetryBackoff < 0 || c.SettleFrames < 0 {
		errs = append(errs, errors.New("retry-backoff and settle must not be negative"))
	}
	if c.Loop && c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive in loop mode, got %s", c.Interval))
	}
	if _, err := filter.MetricByName(c.Metric); err != nil {
		errs = append(errs, err)
	}
	if c.HookCommand != "" && c.HookTimeout <= 0 {
		errs = append(errs, errors.New("on-improve-timeout must be positive"))
	}
	if c.HookEvery < 0 {
		errs = append(errs, errors.New("on-improve-every must not be negative"))
	}

	return errors.Join(errs...)
}

type resolutionList []sweep.Resolution

func (l *resolutionList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, r := range *l {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func (l *resolutionList) Set(s string) error {
	var out []sweep.Resolution
	for _, part := range splitList(s) {
		r, err := sweep.ParseResolution(part)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*l = out
	return nil
}

type intList []int

func (l *intList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	var out []int
	for _, part := range splitList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("%q is not an integer", part)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

type floatList []float64

func (l *floatList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (l *floatList) Set(s string) error {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", part)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
