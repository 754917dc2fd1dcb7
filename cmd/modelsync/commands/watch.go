package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modelsync/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var local, remote string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run diff whenever exclusion policies change",
		Long: `Print a diff, then watch the policy directory and print a new diff each
time a policy file is written, created or removed.`,
		Example: `  modelsync watch --local server.yaml --remote domain.cue -c modelsync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "watch", func(ctx context.Context, rt *app) error {
				if rt.settings.PolicyDir == "" {
					return errors.New("watch needs policy_dir in the settings")
				}
				if err := runDiff(ctx, cmd, rt, local, remote); err != nil {
					return err
				}

				loader := policy.NewLoader(rt.logger)
				err := loader.Watch(ctx, []string{rt.settings.PolicyDir}, func(policies []policy.Policy) error {
					if err := rt.policies.SetPolicies(ctx, policies); err != nil {
						return err
					}
					return runDiff(ctx, cmd, rt, local, remote)
				})
				if err != nil {
					return err
				}

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local model document")
	cmd.Flags().StringVar(&remote, "remote", "", "remote model or operation document")
	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")

	return cmd
}
