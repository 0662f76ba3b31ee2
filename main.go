/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/vri/engine"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/testbed"
)

func main() {
	var configPath string
	var noWatch bool

	cmd := &cobra.Command{
		Use:           "vri",
		Short:         "Runs the VRI testbed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tb := testbed.NewTestGame(configPath)
			tb.ApplicationConfig.WatchConfig = !noWatch
			return run(tb)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "vri.toml", "path of the TOML configuration")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the configuration when it changes")

	if err := cmd.Execute(); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}

func run(tb *testbed.TestGame) error {
	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		return err
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	// the loop owns the window, so a signal only asks it to stop
	go func() {
		if _, ok := <-sigCh; ok {
			e.Quit()
		}
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
