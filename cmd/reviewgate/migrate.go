package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/reviewgate/internal/config"
	"github.com/LeventeLantos/reviewgate/internal/repo"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, dialect, err := openStore(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Migrate(db, dialect); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
