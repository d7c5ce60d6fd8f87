package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/pipegrid/internal/app"
	"github.com/vk/pipegrid/internal/cli"
	"github.com/vk/pipegrid/internal/config"
)

// main is the entrypoint for the pipegrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()

	// The real main function handles errors and exit codes.
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	env, err := config.Load()
	if err != nil {
		return &cli.ExitError{Code: 2, Message: err.Error()}
	}

	appConfig, shouldExit, err := cli.Parse(args, outW, env)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// A panic in a handler module is turned into a clean error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()

	pipegridApp, err := app.NewApp(ctx, outW, appConfig)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if closeErr := pipegridApp.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return pipegridApp.Run(ctx)
}
