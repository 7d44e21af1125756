package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
)

// stopTimeout bounds shutdown, including a cycle still in flight.
const stopTimeout = 45 * time.Second

var (
	runConfig string
	runOnce   bool
)

func init() {
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "./config.yaml", "path to the YAML or JSON config file")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single poll cycle and exit")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--once] [-c <config.yaml>]",
	Short: "Polls every enabled account until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := app.New(runConfig)
		if err != nil {
			return err
		}

		if runOnce {
			_, err := a.RunOnce(ctx)
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(stopCtx, app.StopOnceDone)
			return err
		}

		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			if ctx.Err() == nil {
				reason = app.StopFatalError
			}
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
		if reason == app.StopFatalError {
			return a.Err()
		}
		return nil
	},
}
