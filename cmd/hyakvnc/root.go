package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/uw-psych/hyakvnc/cli"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/manager"
	"github.com/uw-psych/hyakvnc/paths"
	"github.com/uw-psych/hyakvnc/store"
)

const version = "2.0.0"

// app carries the state shared by all subcommands, set up once in the root
// command's PersistentPreRunE.
type app struct {
	cfg config.Config
	mgr *manager.Manager
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:     "hyakvnc",
		Short:   "Temporary VNC desktops on Hyak compute nodes",
		Version: version,
		Long: `hyakvnc reserves a compute node through Slurm, starts a VNC desktop
session on it, and forwards the session's port back to the login node so it
can be reached from your machine with a single ssh tunnel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetDebug(debug)
			runID := uuid.NewString()[:8]
			logger.WithRun(runID).Info("invocation", "command", cmd.Name(), "version", version)

			if configPath == "" {
				var err error
				configPath, err = paths.ConfigFilePath()
				if err != nil {
					return err
				}
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg

			// Every command but check talks to the scheduler.
			if cmd.Name() != "check" {
				if err := cli.ValidateRequired(cli.DefaultPrerequisites(cfg)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: resolved per XDG)")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		newCreateCmd(a),
		newStatusCmd(a),
		newKillCmd(a),
		newKillAllCmd(a),
		newRepairCmd(a),
		newSetPasswordCmd(a),
		newCheckCmd(a),
	)
	return root
}

// buildManager wires the real components. It is deferred to command
// run time so flag overrides applied to a.cfg are picked up.
func (a *app) buildManager() (*manager.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}
	vncDir, err := paths.VNCDir()
	if err != nil {
		return nil, fmt.Errorf("resolving vnc directory: %w", err)
	}
	a.mgr = manager.New(a.cfg, exec.NewRealExecutor(), store.NewFileStore(vncDir, ".pid"))
	return a.mgr, nil
}
