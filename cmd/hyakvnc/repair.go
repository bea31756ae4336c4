package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Restore missing port forwards for running desktops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.buildManager()
			if err != nil {
				return err
			}
			actions, err := mgr.Repair(cmd.Context())
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Println("Nothing to repair.")
				return nil
			}
			for _, action := range actions {
				fmt.Println(action)
			}
			return nil
		},
	}
}
