package cmd

import (
	"fmt"
	"os"

	"github.com/ethpandaops/visual-metrics/internal/perfherder"
	"github.com/spf13/cobra"
)

var validateSchema string

var validateCmd = &cobra.Command{
	Use:   "validate <perfherder-data.json>",
	Short: "Validate a perfherder report against the performance artifact schema",
	Long: `Checks an existing perfherder-data.json against the performance artifact
schema. The embedded schema is used when the schema file does not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := validateSchema
		if schema == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema = cfg.SchemaPath
		}

		validator, err := perfherder.NewValidator(schema)
		if err != nil {
			return fmt.Errorf("loading schema: %w", err)
		}

		doc, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading report: %w", err)
		}

		if err := validator.Validate(doc); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s conforms to %s\n", args[0], validator.Source())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "Path to the performance artifact schema (default PERFHERDER_SCHEMA)")
}
