package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/database"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/migrations"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	withDB := func(fn func(cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			db, err := database.Open(database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // one-shot command
			return fn(cmd, db)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				return db.Migrate(cmd.Context(), migrations.FS)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				return db.MigrateDown(cmd.Context(), migrations.FS)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tDETAIL")
				for _, r := range applied {
					fmt.Fprintf(w, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(w, "%s\tpending\t%s\n", m.Version, m.Name)
				}
				return w.Flush()
			}),
		},
	)
	return cmd
}
