package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/database"
)

// migrateCommands defines the "migrate" command. The schema is created
// idempotently, so running it against an existing database is a no-op.
func migrateCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update the ledgerguard schema",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Printf("Error closing database: %v", err)
				}
			}()

			log.Println("Schema is up to date")
		},
	}
	return cmd
}
