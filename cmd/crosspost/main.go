package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crosspost",
		Short: "Sync X (Twitter) posts to 小红书 and 微信公众号, translated",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose development logging")

	root.AddCommand(syncCmd())
	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

	return root
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one fetch cycle and enqueue new items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	}
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline daemon: scheduler, stage workers, and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func statusCmd() *cobra.Command {
	var (
		jsonOutput bool
		byStatus   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked items and their pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(jsonOutput, byStatus, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&byStatus, "status", "", "filter by status (pending, translated, published_partial, published_all, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max items to show")
	return cmd
}
