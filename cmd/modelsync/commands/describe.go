package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modelsync/pkg/config"
)

func newDescribeCommand() *cobra.Command {
	var modelFile string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the operations that recreate a model",
		Long: `Describe a model document as the flat list of operations that recreate it.

Runtime-only resources, filtered subtrees and resources without a
registration are left out.`,
		Example: `  modelsync describe --model server.yaml
  modelsync describe --model server.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "describe", func(ctx context.Context, rt *app) error {
				doc, err := rt.loader.LoadFile(modelFile)
				if err != nil {
					return err
				}
				if doc.Model == nil {
					return fmt.Errorf("%s is already an operation document", modelFile)
				}

				desc := config.Describe(doc.Model, rt.registry, rt.filter, rt.logger)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), desc)
				}
				for _, op := range desc.Operations {
					fmt.Fprintln(cmd.OutOrStdout(), op)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "model document")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}
