package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uw-psych/hyakvnc/cli"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that this host has everything hyakvnc needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := cli.CheckAll(cli.DefaultPrerequisites(a.cfg))
			fmt.Print(cli.FormatCheckResults(results))

			hasKey, err := cli.HasIntraClusterKey(a.cfg)
			if err != nil {
				return err
			}
			if !hasKey {
				fmt.Println("Warning: no intracluster SSH key found in authorized_keys.")
				fmt.Println("Node hops may prompt for a password. Set one up with:")
				fmt.Printf("\tssh-keygen && cat ~/.ssh/id_*.pub >> ~/.ssh/authorized_keys\n")
			}

			if has, err := a.mgrHasPassword(); err == nil && !has {
				fmt.Println("Warning: no VNC password set. Run: hyakvnc set-password")
			}
			return cli.ValidateRequired(cli.DefaultPrerequisites(a.cfg))
		},
	}
}

func (a *app) mgrHasPassword() (bool, error) {
	mgr, err := a.buildManager()
	if err != nil {
		return false, err
	}
	return mgr.HasPassword()
}
