package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/utkarsh5026/bulkload/internal/sink"
)

func seedCmd(a *app) *cobra.Command {
	return tableCmd(a, "seed", "Create the target table if it does not exist",
		func(ctx context.Context, cmd *cobra.Command, pg *sink.Postgres) error {
			if err := pg.CreateTable(ctx); err != nil {
				return err
			}
			log.WithField("table", a.config.Postgres.Table).Info("table ready")
			return nil
		})
}

func countCmd(a *app) *cobra.Command {
	return tableCmd(a, "count", "Print the number of rows in the target table",
		func(ctx context.Context, cmd *cobra.Command, pg *sink.Postgres) error {
			n, err := pg.Count(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		})
}

func truncateCmd(a *app) *cobra.Command {
	return tableCmd(a, "truncate", "Remove every row from the target table",
		func(ctx context.Context, cmd *cobra.Command, pg *sink.Postgres) error {
			if err := pg.Truncate(ctx); err != nil {
				return err
			}
			log.WithField("table", a.config.Postgres.Table).Info("table truncated")
			return nil
		})
}

// tableCmd builds a command that runs fn against a single Postgres connection.
func tableCmd(a *app, use, short string, fn func(context.Context, *cobra.Command, *sink.Postgres) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config.SinkConfig()
			cfg.MaxConns = 1
			pg, err := sink.OpenPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pg.Close()
			return fn(cmd.Context(), cmd, pg)
		},
	}
}
