package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uw-psych/hyakvnc/manager"
	"github.com/uw-psych/hyakvnc/remote"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		force     bool
		partition string
		account   string
		hours     int
		cpus      int
		mem       string
		gpus      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Reserve a node and start a VNC desktop on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if partition != "" {
				a.cfg.Partition = partition
			}
			if account != "" {
				a.cfg.Account = account
			}
			if hours > 0 {
				a.cfg.WallTimeHours = hours
			}
			if cpus > 0 {
				a.cfg.CPUs = cpus
			}
			if mem != "" {
				a.cfg.Memory = mem
			}
			if gpus != "" {
				a.cfg.GPUs = gpus
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			// Node reimages can leave stale host keys behind that would
			// block the ssh hops with an identity prompt.
			if err := remote.ClearKnownHosts(); err != nil {
				return err
			}

			mgr, err := a.buildManager()
			if err != nil {
				return err
			}

			fmt.Printf("Reserving a node on %s (%d cpus, %s, %dh)...\n",
				a.cfg.Partition, a.cfg.CPUs, a.cfg.Memory, a.cfg.WallTimeHours)
			result, err := mgr.Create(cmd.Context(), manager.CreateOptions{Force: force})
			if err != nil {
				return err
			}

			fmt.Printf("Node %s reserved with job ID %s\n", result.Node, result.JobID)
			fmt.Printf("VNC session started on display %s (port %s)\n", result.Display, result.RemotePort)
			printConnectionInstructions(a, result)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow more than one desktop at a time")
	cmd.Flags().StringVarP(&partition, "partition", "p", "", "Slurm partition")
	cmd.Flags().StringVarP(&account, "account", "A", "", "Slurm account")
	cmd.Flags().IntVarP(&hours, "time", "t", 0, "reservation length in hours")
	cmd.Flags().IntVarP(&cpus, "cpus", "c", 0, "cpu count")
	cmd.Flags().StringVar(&mem, "mem", "", "memory, e.g. 16G")
	cmd.Flags().StringVar(&gpus, "gpus", "", "gres spec, e.g. gpu:1")
	return cmd
}

func printConnectionInstructions(a *app, result manager.CreateResult) {
	fmt.Println("=====================")
	fmt.Println("Run the following in a new terminal window on your machine:")
	fmt.Printf("\tssh -N -f -L %s:127.0.0.1:%s %s@%s\n",
		result.LocalPort, result.LocalPort, a.cfg.User, a.cfg.LoginHost)
	fmt.Printf("then connect your VNC viewer to localhost:%s\n", result.LocalPort)
	fmt.Println("=====================")
}
