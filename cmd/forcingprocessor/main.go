// Command forcingprocessor runs the NWM forcing-to-catchment-timeseries
// extraction pipeline against a configuration document.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spf13/cobra"

	"github.com/hydroforcing/forcingprocessor/config"
	"github.com/hydroforcing/forcingprocessor/objstore"
	"github.com/hydroforcing/forcingprocessor/pipeline"
	"github.com/hydroforcing/forcingprocessor/runctx"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "forcingprocessor",
	Short: "Extract NWM atmospheric forcing onto catchment timeseries",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", configPath, err)
		}
		var cfg config.Config
		if err := v.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}

		ctx := context.Background()
		rc := runctx.New(os.Stdout, cfg.Run.Verbose)
		if cfg.Run.NProcs > 0 {
			rc.NProcs = cfg.Run.NProcs
		}
		if cfg.Run.NFileChunk > 0 {
			rc.NFileChunk = cfg.Run.NFileChunk
		}

		store, err := objstore.New(ctx)
		if err != nil {
			return fmt.Errorf("constructing object store: %w", err)
		}

		return pipeline.Run(ctx, rc, cfg, store)
	},
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the run configuration document")
	rootCmd.MarkFlagRequired("config")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
