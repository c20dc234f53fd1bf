package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"broker-streaming/internal/logger"
	"broker-streaming/internal/trace"
	"broker-streaming/internal/web"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	code := 0
	if err := web.NewServer().Run(ctx, "0.0.0.0:"+port); err != nil {
		logger.ErrorWithErr(ctx, "Web server failed", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = trace.Shutdown(shutdownCtx)
	cancel()
	_ = logger.Sync()
	os.Exit(code)
}
