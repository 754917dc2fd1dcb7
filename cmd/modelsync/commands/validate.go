package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/modelsync/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var modelFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a model document against the schema",
		Long: `Validate a model document against the registered resource definitions.

This command checks:
  - Document syntax (CUE, YAML or JSON)
  - Every resource resolves to a registration
  - Attributes are known configuration attributes`,
		Example: `  modelsync validate --model server.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "validate", func(ctx context.Context, rt *app) error {
				doc, err := rt.loader.LoadFile(modelFile)
				if err != nil {
					return err
				}
				if doc.Model == nil {
					return fmt.Errorf("%s is an operation document, validate needs a model", modelFile)
				}

				problems := config.Validate(modelFile, doc.Model, rt.registry)
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), problems); err != nil {
						return err
					}
				} else {
					for _, p := range problems {
						fmt.Fprintln(cmd.OutOrStdout(), p.Error())
					}
				}

				errorCount := 0
				for _, p := range problems {
					if p.Severity == "error" {
						errorCount++
					}
				}
				log.Debug().
					Int("problems", len(problems)).
					Int("errors", errorCount).
					Msg("Validation finished")
				if errorCount > 0 {
					return fmt.Errorf("%s: %d validation errors", modelFile, errorCount)
				}
				if !jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", modelFile)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "model document")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}
