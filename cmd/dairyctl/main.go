package main

import (
	"fmt" // Error output
	"os"  // Exit codes

	"github.com/spf13/cobra" // CLI framework
)

// Version is set at build time
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "dairyctl",
		Short:         "Operator tool for the dairy delivery backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
