package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PriceWatch/internal/app"
	"PriceWatch/internal/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "pricewatch",
		Short:         "Price feed sync, cache and broadcast engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), syncCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, HTTP API and WebSocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func syncCmd() *cobra.Command {
	var datasetKey string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one refresh cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.SyncOnce(context.Background(), datasetKey)
		},
	}
	cmd.Flags().StringVar(&datasetKey, "dataset", "", "dataset key to refresh (default: most recent)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pricewatch", version)
		},
	}
}
