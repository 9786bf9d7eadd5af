package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/storage/migrations"
	"github.com/spiralos/guardian/internal/storage/postgres"
	"github.com/spiralos/guardian/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and show the schema version",
	Long: `Opening the store applies pending migrations; this command reports the result.
Use --rollback to revert the most recent SQLite migration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rollback, _ := cmd.Flags().GetBool("rollback")

		switch s := store.(type) {
		case *sqlite.SQLiteStorage:
			manager := migrations.SQLite()
			if rollback {
				if err := manager.Rollback(s.DB()); err != nil {
					return err
				}
				fmt.Printf("%s Rolled back the most recent migration\n", green("✓"))
			}
			applied, err := manager.Applied(s.DB())
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Printf("  %s %3d  %s  %s\n", green("✓"), m.Version, formatTime(m.AppliedAt), m.Description)
			}
			current, err := manager.CurrentVersion(s.DB())
			if err != nil {
				return err
			}
			fmt.Printf("\nSchema at version %d of %d\n", current, manager.Latest())
		case *postgres.PostgresStorage:
			if rollback {
				return fmt.Errorf("rollback is only supported for the sqlite backend")
			}
			n, err := s.Migrate()
			if err != nil {
				return err
			}
			fmt.Printf("%s PostgreSQL schema up to date (%d applied now, latest %d)\n",
				green("✓"), n, migrations.Postgres().Latest())
		default:
			fmt.Printf("%s\n", gray("In-memory backend has no schema"))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("rollback", false, "Revert the most recent migration (sqlite only)")
	rootCmd.AddCommand(migrateCmd)
}
