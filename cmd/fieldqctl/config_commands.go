package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldq/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = *ctx.configFlag
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return err
			}
			if err := config.CreateSample(expanded); err != nil {
				return err
			}
			cmd.Printf("Sample configuration written to %s\n", expanded)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Data directory", cfg.Paths.DataDir},
				{"Log directory", cfg.Paths.LogDir},
				{"Database", cfg.DatabasePath()},
				{"Delivery endpoint", cfg.Delivery.Endpoint},
				{"Probe URL", cfg.Connectivity.ProbeURL},
				{"Retry policy", fmt.Sprintf("%s (base %ds, cap %ds)", cfg.Retry.Policy, cfg.Retry.BaseSeconds, cfg.Retry.CapSeconds)},
				{"Max in flight", fmt.Sprintf("%d", cfg.Queue.MaxInFlight)},
				{"Submitted retention", fmt.Sprintf("%dh", cfg.Queue.SubmittedRetentionHours)},
			}
			cmd.Println(renderTable([]string{"Setting", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	})

	return cmd
}
