package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evntfy/evntfy/bootstrap"
	"github.com/evntfy/evntfy/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event pipeline server",
	Long: `Start the evntfy server.

The server will:
  - Load configuration from evntfy.yaml (or --config)
  - Or load configuration from EVNTFY_* environment variables
  - Connect to the counter and durable stores
  - Accept event streams on /v1/stream and dashboards on /v1/dashboard

Environment variables (for Docker deployments):
  EVNTFY_COUNTER_MODE    - Counter store: redis or memory
  EVNTFY_REDIS_URL       - Redis URL (required for redis mode)
  EVNTFY_STORAGE_DRIVER  - Durable store: mongo, sqlite or memory
  EVNTFY_MONGO_URI       - MongoDB URI (required for mongo)
  EVNTFY_SERVER_PORT     - Server port (default: 8080)
  EVNTFY_LOG_LEVEL       - Log level: debug, info, warn, error

Examples:
  evntfy serve
  evntfy serve --config /etc/evntfy/config.yaml
  evntfy serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file.
		app, err = bootstrap.NewFromFile(cfgFile)
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
		app, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	return app.Run()
}
