package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	ledgerguard "github.com/ledgerguard/ledgerguard"
	"github.com/ledgerguard/ledgerguard/api"
)

func initializeRouter(l *ledgerInstance) *gin.Engine {
	return api.NewAPI(l.ledger).Router()
}

// serverCommands defines the "server" command that runs the HTTP API and
// the queue recovery loop.
func serverCommands(l *ledgerInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start ledgerguard server",
		Run: func(cmd *cobra.Command, args []string) {
			router := initializeRouter(l)

			recovery := ledgerguard.NewQueueRecoveryProcessor(ledgerguard.NewQueue(l.cnf))
			recovery.Start(context.Background())
			defer recovery.Stop()

			server := &http.Server{
				Addr:              ":" + l.cnf.Server.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			log.Printf("Starting server on %s\n", l.cnf.Server.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		},
	}
	return cmd
}
