package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of your desktops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.buildManager()
			if err != nil {
				return err
			}
			report, err := mgr.Status(cmd.Context())
			if err != nil {
				return err
			}

			if len(report.Entries) == 0 {
				fmt.Printf("No active %s jobs.\n", a.cfg.JobName)
			}
			for _, entry := range report.Entries {
				alloc := entry.Allocation
				fmt.Printf("Job %s (%s)\n", alloc.ID, alloc.State)
				if alloc.Pending() {
					fmt.Printf("\twaiting for a node (%s)\n", alloc.Reason)
					continue
				}
				fmt.Printf("\tnode: %s\n", alloc.Node)
				fmt.Printf("\ttime left: %s\n", alloc.TimeLeft)
				for _, s := range entry.Sessions {
					state := "active"
					if s.Stale {
						state = "stale"
					}
					fmt.Printf("\tsession %s (%s, port %s, alive: %s)\n", s.Display, state, s.Port, s.Alive)
				}
				for _, fwd := range entry.Forwards {
					fmt.Printf("\tforward localhost:%s -> %s:%s (pid %s)\n",
						fwd.LocalPort, fwd.Host, fwd.RemotePort, fwd.PID)
					fmt.Printf("\tconnect: ssh -N -f -L %s:127.0.0.1:%s %s@%s\n",
						fwd.LocalPort, fwd.LocalPort, a.cfg.User, a.cfg.LoginHost)
				}
			}
			for _, warning := range report.Warnings {
				fmt.Printf("Warning: %s\n", warning)
			}
			return nil
		},
	}
}
