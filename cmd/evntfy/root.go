package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "evntfy",
	Short: "Real-time event ingestion pipeline with metering and live dashboards",
	Long: `evntfy ingests event streams over WebSocket, meters every message
against per-key usage limits, and fans admitted events out to durable
storage and live dashboard subscribers.

Quick start:
  evntfy serve                Start the pipeline server
  evntfy keys create          Issue a metered API key

Management:
  evntfy keys list            List an owner's keys
  evntfy validate             Validate configuration`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "evntfy.yaml", "config file path")
}
