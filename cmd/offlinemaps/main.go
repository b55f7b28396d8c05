// Command offlinemaps serves the offline regions service and talks to it.
//
//	offlinemaps serve --storage-dir /var/lib/offline-maps
//	offlinemaps download --file region.yaml --token pk.xxx --watch
//	offlinemaps regions -o yaml
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
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
