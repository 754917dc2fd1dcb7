package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDiffCommand() *cobra.Command {
	var local, remote string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the operations a sync would apply",
		Long: `Compute the ordered operations that would turn the local model into the
remote one, without applying them.

The result lists:
  - extension-op entries for extensions to add or remove
  - sync-op entries in submission order
  - unresolved addresses and excluded operation counts`,
		Example: `  # Compare two model documents
  modelsync diff --local server.yaml --remote domain.cue

  # Machine-readable output
  modelsync diff --local server.yaml --remote domain.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "diff", func(ctx context.Context, rt *app) error {
				return runDiff(ctx, cmd, rt, local, remote)
			})
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local model document")
	cmd.Flags().StringVar(&remote, "remote", "", "remote model or operation document")
	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")

	return cmd
}

func runDiff(ctx context.Context, cmd *cobra.Command, rt *app, local, remote string) error {
	log.Debug().Str("local", local).Str("remote", remote).Msg("Computing diff")

	syncer, err := rt.synchronizer(ctx, rt.fileSource(local), rt.fileSource(remote), nil)
	if err != nil {
		return err
	}

	result, err := syncer.Diff(ctx)
	if result != nil {
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
				return perr
			}
		} else {
			printPass(cmd.OutOrStdout(), result)
		}
	}
	if err != nil {
		return fmt.Errorf("diff failed: %w", err)
	}
	return nil
}
