package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/opticam/internal/filter"
	"github.com/ayusman/opticam/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4*6*6*6, cfg.Grid().Size())
	assert.Len(t, cfg.Grid().Enumerate(cfg.Limit), 200)
	assert.Equal(t, 10, cfg.Workers)
	assert.Equal(t, 10, cfg.Retry().Attempts)
	assert.Equal(t, "pixelsum", cfg.Metric)
	assert.Equal(t, sweep.Resolution{Width: 640, Height: 480}, cfg.Baseline)
}

func TestParse_Overrides(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Parse([]string{
		"-data-dir", dir,
		"-device", "2",
		"-resolutions", "320x240, 1280x720",
		"-diameters", "5,9",
		"-sigma-color", "50",
		"-sigma-space", "25.5,80",
		"-limit", "0",
		"-workers", "3",
		"-metric", "sharpness",
		"-retries", "4",
		"-retry-backoff", "5ms",
		"-loop",
		"-interval", "2s",
		"-baseline", "1280x720",
		"-listen", ":9090",
		"-on-improve", "notify-send opticam",
		"-on-improve-every", "0",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.DeviceID)
	assert.Equal(t, []sweep.Resolution{{Width: 320, Height: 240}, {Width: 1280, Height: 720}}, cfg.Resolutions)
	assert.Equal(t, []int{5, 9}, cfg.Diameters)
	assert.Equal(t, []float64{50}, cfg.SigmaColors)
	assert.Equal(t, []float64{25.5, 80}, cfg.SigmaSpaces)
	assert.Equal(t, 0, cfg.Limit)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "sharpness", cfg.Metric)
	assert.Equal(t, 4, cfg.RetryAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.RetryBackoff)
	assert.True(t, cfg.Loop)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, sweep.Resolution{Width: 1280, Height: 720}, cfg.Baseline)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "notify-send opticam", cfg.HookCommand)
	assert.Equal(t, 5*time.Second, cfg.HookTimeout)
	assert.Zero(t, cfg.HookEvery)

	assert.Equal(t, filepath.Join(dir, "opticam.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "opticam.log"), cfg.LogFile)
}

func TestParse_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad resolution", args: []string{"-resolutions", "640by480"}},
		{name: "bad diameter", args: []string{"-diameters", "five"}},
		{name: "bad sigma", args: []string{"-sigma-color", "x"}},
		{name: "bad baseline", args: []string{"-baseline", "wide"}},
		{name: "unknown metric", args: []string{"-metric", "psnr"}},
		{name: "zero workers", args: []string{"-workers", "0"}},
		{name: "zero retries", args: []string{"-retries", "0"}},
		{name: "negative diameter", args: []string{"-diameters", "-3"}},
		{name: "unknown flag", args: []string{"-frobnicate"}},
		{name: "negative hook spacing", args: []string{"-on-improve-every", "-1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(append([]string{"-data-dir", dir}, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Diameters = nil
	cfg.Workers = 0
	cfg.Metric = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "at least one value")
	assert.ErrorContains(t, err, "workers")
	assert.ErrorContains(t, err, "unknown metric")
}

func TestListFlags_String(t *testing.T) {
	r := resolutionList{{Width: 640, Height: 480}, {Width: 1280, Height: 720}}
	assert.Equal(t, "640x480,1280x720", r.String())

	i := intList{5, 9}
	assert.Equal(t, "5,9", i.String())

	f := floatList{50, 12.5}
	assert.Equal(t, "50,12.5", f.String())
}

func TestValidate_DiameterAgreesWithFilter(t *testing.T) {
	cfg := Default()
	cfg.Diameters = []int{5, 0}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, filter.ErrBadDiameter)
}
