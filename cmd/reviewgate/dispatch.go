package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/reviewgate/internal/config"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

func newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch pass and print its report",
	}
	cmd.AddCommand(
		newDispatchRunCmd("due", "Send initial messages that are due", (*service.Dispatcher).SendDue),
		newDispatchRunCmd("nudges", "Send follow-ups that are due", (*service.Dispatcher).SendNudges),
	)
	return cmd
}

type dispatchFunc func(*service.Dispatcher, context.Context) service.Report

func newDispatchRunCmd(use, short string, run dispatchFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report := run(a.dispatcher, cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.Error != "" {
				return errors.New(report.Error)
			}
			return nil
		},
	}
}
