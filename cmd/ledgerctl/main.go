package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Administer the credit ledger, escrow and provider settlements",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(settleCmd())
	root.AddCommand(processCmd())
	root.AddCommand(retryCmd())
	root.AddCommand(failedCmd())
	root.AddCommand(operatorCmd())
	root.AddCommand(providerCmd())
	root.AddCommand(transactionCmd())
	root.AddCommand(eventCmd())
	root.AddCommand(tokenCmd())
	return root
}
