package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sasslint-lsp",
	Short: "A language server running sass-lint on Sass and SCSS documents",
	// Editors start the binary without arguments.
	RunE: func(cmd *cobra.Command, args []string) error {
		return lspCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Sets logging to verbose")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the server config file")
	rootCmd.PersistentFlags().Bool("stdio", true, "Use stdio for the protocol, the only transport")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
