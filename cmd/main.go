package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ledgerguard "github.com/ledgerguard/ledgerguard"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/database"
	"github.com/ledgerguard/ledgerguard/internal/notification"
)

// LedgerGuardCLI is the CLI application, encapsulating the root Cobra
// command.
type LedgerGuardCLI struct {
	cmd *cobra.Command
}

// ledgerInstance holds the engine instance and its configuration, shared
// by every subcommand.
type ledgerInstance struct {
	ledger *ledgerguard.LedgerGuard
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand runs.
func preRun(app *ledgerInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newLedger, err := setupLedger(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.ledger = newLedger
		app.cnf = cnf

		return nil
	}
}

// setupLedger connects the datasource and builds the engine from it.
func setupLedger(cfg *config.Configuration) (*ledgerguard.LedgerGuard, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newLedger, err := ledgerguard.NewLedgerGuard(db)
	if err != nil {
		return nil, fmt.Errorf("error creating ledger: %v", err)
	}
	return newLedger, nil
}

// NewCLI creates the command-line interface with the server, workers and
// migrate subcommands.
func NewCLI() *LedgerGuardCLI {
	var configFile string
	l := &ledgerInstance{}

	var rootCmd = &cobra.Command{
		Use:   "ledgerguard",
		Short: "Banking ledger with built-in risk detection",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./ledgerguard.json", "Configuration file for the ledger")
	rootCmd.PersistentPreRunE = preRun(l, &configFile)

	rootCmd.AddCommand(serverCommands(l))
	rootCmd.AddCommand(workerCommands(l))
	rootCmd.AddCommand(migrateCommands())

	return &LedgerGuardCLI{cmd: rootCmd}
}

func (w LedgerGuardCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
