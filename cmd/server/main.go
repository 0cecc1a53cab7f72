package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"owlcam/internal/ble"
	"owlcam/internal/camera"
	"owlcam/internal/catalog"
	"owlcam/internal/command"
	"owlcam/internal/gateway"
	"owlcam/internal/hardware"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	s, err := obtainSettings()
	if err != nil {
		return err
	}
	logs, err := setupLogging(s)
	if err != nil {
		return err
	}
	defer logs.Close()

	slog.Info("owlcam Camera System Starting...", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := hardware.NewMockService()
	defer svc.Close()

	store, err := catalog.Open(s.CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := camera.NewStats()
	mgr := camera.NewManager(camera.ManagerConfig{
		Service:     svc,
		Permissions: hardware.NewMockPermissions(true, true),
		Display:     hardware.FixedDisplay(s.DisplayRotation),
		Observer:    store,
		Stats:       stats,
	})
	defer mgr.Dispose()

	browser := &hardware.FileBrowser{RootPath: s.MediaRoot}
	if _, err := browser.Folders(); err != nil {
		return fmt.Errorf("media root: %w", err)
	}
	disp := command.NewDispatcher(command.Config{
		Manager:   mgr,
		Browser:   browser,
		MediaRoot: s.MediaRoot,
		Catalog:   store,
	})

	errc := make(chan error, 2)
	if s.ListenWS != "" {
		gw := gateway.New(gateway.Config{
			Addr:       s.ListenWS,
			Dispatcher: disp,
			Registry:   stats.Registry(),
		})
		go func() { errc <- gw.Run(ctx) }()
	}
	if s.ListenPrometheus != "" {
		go func() { errc <- runPrometheusListener(ctx, s.ListenPrometheus, stats.Registry()) }()
	}

	if s.BLE {
		btServer := ble.NewServer(s.BLEName, disp, browser)
		if err := btServer.Start(); err != nil {
			return fmt.Errorf("failed to start BLE server: %w", err)
		}
	}

	if s.DefaultCamera != "" {
		op := mgr.Open(s.DefaultCamera, s.DefaultPreset)
		go func() {
			res, err := op.Wait(ctx)
			if err != nil {
				slog.Error("Failed to open default camera", "camera", s.DefaultCamera, "err", err)
				return
			}
			slog.Info("Default camera open", "camera", s.DefaultCamera, "handle", res.HandleID,
				"preview", res.PreviewSize)
		}()
	}

	// SIGUSR1 and SIGUSR2 stand in for the host moving to the background
	// and back.
	lifecycle := make(chan os.Signal, 1)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(lifecycle)

	slog.Info("owlcam Controller Ready. Press Ctrl+C to exit.")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down...")
			return nil
		case err := <-errc:
			if err != nil {
				return err
			}
		case sig := <-lifecycle:
			if sig == syscall.SIGUSR1 {
				mgr.Suspend()
			} else {
				mgr.Resume()
			}
		}
	}
}

// runPrometheusListener runs the Prometheus metrics endpoint in the given
// address.
func runPrometheusListener(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	promHandler := promhttp.InstrumentMetricHandler(
		reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	mux.Handle("/metrics", promHandler)
	hs := http.Server{
		Addr:        addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
		Handler:     mux,
	}
	slog.Info("Exposing prometheus metrics", "addr", addr)
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
