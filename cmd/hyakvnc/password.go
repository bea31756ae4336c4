package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Set the VNC password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.buildManager()
			if err != nil {
				return err
			}
			fmt.Println("Setting VNC password...")
			return mgr.SetPassword(cmd.Context())
		},
	}
}
