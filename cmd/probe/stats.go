package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print live connection counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newClient().GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func snapshotCmd() *cobra.Command {
	var tenantID, date string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a tenant's appointments for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			snap, err := newClient().GetSnapshot(cmd.Context(), tenantID, date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to read")
	cmd.Flags().StringVar(&date, "date", "", "day to read (YYYY-MM-DD, default today)")
	return cmd
}
