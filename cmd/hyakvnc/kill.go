package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uw-psych/hyakvnc/cluster"
)

func newKillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Tear down one desktop: session, forward, and allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.buildManager()
			if err != nil {
				return err
			}
			id := cluster.JobID(args[0])
			fmt.Printf("Killing desktop job %s...\n", id)
			if err := mgr.Kill(cmd.Context(), id); err != nil {
				if errors.Is(err, cluster.ErrNotFound) {
					return fmt.Errorf("job %s is not an active %s job", id, a.cfg.JobName)
				}
				return err
			}
			fmt.Println("Done.")
			return nil
		},
	}
}

func newKillAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-all",
		Short: "Tear down every desktop under your job name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.buildManager()
			if err != nil {
				return err
			}
			fmt.Printf("Killing all %s jobs...\n", a.cfg.JobName)
			if err := mgr.KillAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Done.")
			return nil
		},
	}
}
