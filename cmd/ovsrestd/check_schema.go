package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovsrestd/backend/internal/application/services"
	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/pkg/expression"
)

var checkSchemaCmd = &cobra.Command{
	Use:   "check-schema [path]",
	Short: "Load an extended schema and compile its validation rules",
	Args:  cobra.MaximumNArgs(1),
	// the schema path may come from the argument alone, so no config is required
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			c, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			path = c.Schema.Path
		}

		sch, err := schema.Load(path)
		if err != nil {
			return err
		}
		if err := services.NewRuleEvaluator(expression.NewEngine()).Validate(sch); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d tables, root %s\n", sch.Name, sch.Version, len(sch.Tables), sch.Root.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkSchemaCmd)
}
