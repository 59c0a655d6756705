package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main wires the command tree and maps failures to exit codes. Business
// logic lives in the internal packages.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "basenet:", err)
		os.Exit(exitCode(err))
	}
}
