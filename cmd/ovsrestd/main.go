// Command ovsrestd serves a schema-driven REST view of an OVSDB-style database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/config"
)

var (
	cfgPath string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ovsrestd",
	Short: "Schema-driven REST daemon for an OVSDB-style replica",
	Long: `ovsrestd loads an extended OVSDB schema, keeps a replica of the database
in memory and exposes every table reachable from the System row as a REST
resource tree with transactional create, replace, patch and delete.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Log.Debug = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable development logging")
}

func newLogger(c *config.Config) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if c.Log.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger.Sugar(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
