package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/lavigneer/sasslint-lsp/pkg/config"
	"github.com/lavigneer/sasslint-lsp/pkg/lsp"
	"github.com/spf13/cobra"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Execute the sass-lint lsp",
	RunE: func(cmd *cobra.Command, _ []string) error {
		debugFlag, _ := cmd.Flags().GetBool("verbose")
		configPath, _ := cmd.Flags().GetString("config")

		level := &slog.LevelVar{}
		level.Set(slog.LevelInfo)
		if debugFlag {
			level.Set(slog.LevelDebug)
		}

		// Set slog to log to stderr instead of stdout since we are using stdio for the server
		logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(logHandler))

		cfg, err := config.NewWithDefaults(configPath)
		if err != nil {
			slog.Error("Could not load config", "path", configPath, "error", err)
			return err
		}

		slog.Info("Setting up sass-lint lsp", "node", cfg.Node)
		handler := lsp.NewHandler(lsp.Options{Config: cfg, Level: level})
		server := lsp.New(handler, nil)
		if debugFlag {
			server = lsp.New(handler, slog.NewLogLogger(logHandler, slog.LevelDebug))
		}
		<-server.Start(context.Background(), lsp.Stdio())
		slog.Info("Connection closed")
		if err := handler.Close(); err != nil {
			slog.Warn("Failed to stop cleanly", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lspCmd)
}
