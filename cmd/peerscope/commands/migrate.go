package commands

import (
	"fmt"

	"github.com/OFFIS-RIT/peerscope/backend/internal/database"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"

	"github.com/spf13/cobra"
)

var migrateDown int

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Long: `Apply every pending migration to DATABASE_URL.

With --down N the last N migrations are rolled back instead.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().IntVar(&migrateDown, "down", 0, "Roll back this many migrations")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return common.InvalidConfig("migrate needs DATABASE_URL")
	}
	if migrateDown < 0 {
		return common.InvalidConfig("--down must not be negative, got %d", migrateDown)
	}

	if migrateDown > 0 {
		if err := database.MigrateDown(cfg.DatabaseURL, migrateDown); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migrations\n", migrateDown)
		return nil
	}
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
	return nil
}
