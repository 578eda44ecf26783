package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ayusman/opticam/internal/app"
	"github.com/ayusman/opticam/internal/capture"
	"github.com/ayusman/opticam/internal/config"
	"github.com/ayusman/opticam/internal/display"
	"github.com/ayusman/opticam/internal/filter"
	"github.com/ayusman/opticam/internal/hook"
	"github.com/ayusman/opticam/internal/logging"
	"github.com/ayusman/opticam/internal/server"
	"github.com/ayusman/opticam/internal/store"
	"github.com/ayusman/opticam/internal/sweep"
	"github.com/ayusman/opticam/internal/tray"
)

// HighGUI and the tray need the process's main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "opticam: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	metric, err := filter.MetricByName(cfg.Metric)
	if err != nil {
		return err
	}

	var st *store.Store
	if !cfg.NoStore {
		st, err = store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
		log.Printf("Recording sweep history in %s", st.Path())
	}

	var preview *display.Preview
	if cfg.Display {
		preview = display.NewPreview("opticam: live | best")
	}

	var executor *hook.Executor
	if cfg.HookCommand != "" {
		executor, err = hook.NewExecutor(cfg.HookCommand, cfg.HookTimeout)
		if err != nil {
			return err
		}
	}

	var hub *server.Hub
	if cfg.Listen != "" {
		hub = server.NewHub()
	}

	camera := capture.NewCamera(cfg.DeviceID)
	camera.SetFPS(cfg.FPS)

	a := app.New(app.Config{
		Camera: camera,
		Store:  st,
		Sweep: sweep.Options{
			Grid:     cfg.Grid(),
			Limit:    cfg.Limit,
			Workers:  cfg.Workers,
			Interval: cfg.Interval,
		},
		Retry:        cfg.Retry(),
		SettleFrames: cfg.SettleFrames,
		Metric:       metric,
		Baseline:     cfg.Baseline,
		Preview:      preview,
		Hook:         executor,
		HookEvery:    cfg.HookEvery,
		Events:       hub,
	})
	if err := a.Open(); err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Listen != "" {
		srv := server.New(server.Config{
			Store:   st,
			Tracker: a.Tracker(),
			Control: a,
			Events:  hub,
		})
		go func() {
			log.Printf("Starting server on %s", cfg.Listen)
			if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
				log.Printf("Server failed: %v", err)
			}
		}()
	}

	switch {
	case cfg.Tray:
		return runTray(ctx, stop, a, cfg)

	case cfg.Loop:
		err := withPreview(preview, func() error { return a.Loop(ctx) })
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil

	default:
		err := withPreview(preview, func() error {
			_, err := a.RunOnce(ctx)
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if cfg.Display {
			a.WaitForKey()
		}
		return nil
	}
}

// withPreview runs work on its own goroutine while the calling goroutine,
// the main thread, serves the preview window. Without a preview work runs
// inline.
func withPreview(preview *display.Preview, work func() error) error {
	if preview == nil {
		return work()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		defer cancel()
		errCh <- work()
	}()

	preview.Run(ctx)
	return <-errCh
}

// runTray drives the sweep loop from the tray menu until Quit or ctx ends.
// systray owns the main thread here, so preview calls run on the
// goroutine that makes them.
func runTray(ctx context.Context, stop context.CancelFunc, a *app.App, cfg config.Config) error {
	t := tray.New(true)

	t.OnToggle(func(enabled bool) {
		if !enabled {
			a.Stop()
			return
		}
		if err := a.Start(); err != nil {
			log.Printf("Failed to start sweep loop: %v", err)
			t.SetEnabled(false)
		}
	})
	t.OnShowBest(func() {
		if err := a.ShowBest(); err != nil {
			log.Printf("Cannot show best frame: %v", err)
		}
	})
	t.OnStatus(func() {
		if cfg.Listen == "" {
			log.Println("Status page disabled; start with -listen")
			return
		}
		if err := openBrowser(statusURL(cfg.Listen)); err != nil {
			log.Printf("Failed to open browser: %v", err)
		}
	})
	t.OnQuit(stop)
	a.OnImprove(t.SetBest)

	if err := a.Start(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
	return nil
}

func statusURL(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		listen = "localhost" + listen
	}
	return "http://" + listen + "/api/sweep"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
