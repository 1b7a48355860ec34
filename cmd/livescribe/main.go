// Package main provides the livescribe CLI process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/livescribe/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run cancels the command on SIGINT/SIGTERM so a recording owner can cancel
// its live session and remove its socket before exiting.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Execute(ctx, args, os.Stdout, os.Stderr)
}
