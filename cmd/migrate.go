package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yuvabe/care-companion/db"
	"github.com/yuvabe/care-companion/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return db.Migrate(cfg.PostgresURL())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
