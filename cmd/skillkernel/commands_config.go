package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcweave/skillkernel/internal/config"
)

// buildConfigCmd creates the "config" command group: "schema" prints the
// JSON Schema for the YAML configuration file, "validate" loads and
// validates one without starting any component.
func buildConfigCmd(configPath *string) *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate the YAML configuration file",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("build schema: %w", err)
			}
			_, err = os.Stdout.Write(append(schema, '\n'))
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(*configPath)
			if err != nil {
				var validationErr *config.ConfigValidationError
				if errors.As(err, &validationErr) {
					for _, issue := range validationErr.Issues {
						fmt.Fprintln(os.Stderr, "-", issue)
					}
				}
				return fmt.Errorf("%s is invalid: %w", *configPath, err)
			}
			fmt.Printf("%s is valid\n", *configPath)
			return nil
		},
	}

	root.AddCommand(schemaCmd, validateCmd)
	return root
}
