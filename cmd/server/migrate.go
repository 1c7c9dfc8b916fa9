package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/data"
)

func migrateCmd() *cobra.Command {
	var seedDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the appointments table and optionally seed it from JSONL files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Data.DSN == "" {
				return fmt.Errorf("data.dsn is required (set DATABASE_URL)")
			}
			loc, err := cfg.Data.Location()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := data.NewPool(ctx, cfg.Data.DSN, cfg.Data.MaxConns)
			if err != nil {
				return err
			}
			store := data.NewPostgresStore(pool, loc)
			defer store.Close()

			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			logger.Info("schema ready")

			if seedDir == "" {
				return nil
			}

			appointments, err := data.ReadAppointments(seedDir, logger)
			if err != nil {
				return err
			}
			for _, a := range appointments {
				if err := store.Upsert(ctx, a); err != nil {
					return err
				}
			}
			logger.Info("seed complete",
				zap.String("dir", seedDir),
				zap.Int("appointments", len(appointments)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&seedDir, "seed", "", "directory of {tenantId}.jsonl files to upsert")
	return cmd
}
