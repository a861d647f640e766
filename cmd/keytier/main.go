// Command keytier serves the subscription and API key endpoints and runs the
// maintenance jobs that keep entitlements aligned with billing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "keytier:", err)
		stop()
		os.Exit(1)
	}
}
