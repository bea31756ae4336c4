// Command hyakvnc provisions temporary VNC desktops on a Slurm cluster: it
// reserves a compute node, starts a VNC session there, and wires up the ssh
// port forward that makes it reachable from the user's machine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/uw-psych/hyakvnc/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
