package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evntfy/evntfy/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Println("Configuration valid")
		fmt.Printf("  Server:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Counter: %s\n", cfg.Counter.Mode)
		fmt.Printf("  Storage: %s\n", cfg.Storage.Driver)
		fmt.Printf("  Reloadable without restart: %v\n", config.ReloadableFields())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
