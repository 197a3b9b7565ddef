package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/imagekit/internal/cli"
	"github.com/dunamismax/imagekit/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		fmt.Fprintf(os.Stderr, "imagekit: start image runtime: %v\n", err)
		return 1
	}
	defer pipeline.Shutdown()

	if err := cli.NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "imagekit: %v\n", err)
		return 1
	}
	return 0
}
