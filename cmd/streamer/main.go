package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker-streaming/internal/logger"
	"broker-streaming/internal/provider"
	"broker-streaming/internal/trace"
	"broker-streaming/internal/types"
)

func main() {
	if err := initializeSystem(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	code := 0
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		logger.ErrorWithErr(ctx, "Streamer failed", err)
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = trace.Shutdown(shutdownCtx)
	cancel()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	cfg, instruments, err := resolve(opts)
	if err != nil {
		return err
	}

	creds := &cfg.Credentials
	gen, err := provider.NewAuthenticator(cfg.Provider, creds)
	if err != nil {
		return err
	}
	bundle, err := gen.GenerateToken(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Access token: %s\n", bundle.AccessToken)

	if opts.generateToken {
		return nil
	}

	out, err := buildSink(ctx, cfg, stdout)
	if err != nil {
		return err
	}
	defer out.Close()

	streamer, err := provider.NewStreamer(cfg.Provider, creds)
	if err != nil {
		return err
	}

	streamCfg := cfg.StreamConfig(instruments, func(msg types.Message) {
		if err := out.Publish(ctx, msg); err != nil {
			logger.Warn(ctx, "Failed to publish message", "error", err)
		}
	})
	streamCfg.OnError = func(err error) {
		logger.Warn(ctx, "Stream error", "provider", cfg.Provider, "error", err)
	}

	err = streamer.Stream(ctx, streamCfg)
	if errors.Is(err, context.Canceled) {
		logger.Info(ctx, "Streamer stopped")
		return nil
	}
	return err
}
