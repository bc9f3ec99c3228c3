package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshkeeper/meshkeeper/internal/app"
	"github.com/meshkeeper/meshkeeper/internal/platform"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(app.Name + " " + app.BuildVersionWithDate())

		return
	}

	if err := run(); err != nil {
		slog.Error("run daemon", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := platform.AcquireInstanceLock(app.Name)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Warn("release instance lock", "error", releaseErr)
		}
	}()

	rt, err := app.Initialize(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	if err := rt.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	return nil
}
