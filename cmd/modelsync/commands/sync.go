package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modelsync/pkg/config"
	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/executor"
	"github.com/openfroyo/modelsync/pkg/stores"
)

func newSyncCommand() *cobra.Command {
	var (
		local  string
		remote string
		out    string
		boot   bool
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local model with the remote one",
		Long: `Reconcile the local model with the remote model and apply the resulting
operations to an in-memory copy of the local model.

When a pass history database is configured the pass, a snapshot of the
resulting model and an audit entry are recorded.`,
		Example: `  # Apply and write the result
  modelsync sync --local server.yaml --remote domain.cue --out server.yaml

  # Boot-time pass, recorded in the history
  modelsync sync --local server.yaml --remote domain.cue --boot --db history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "sync", func(ctx context.Context, rt *app) error {
				return runSync(ctx, cmd, rt, local, remote, out, boot, noWait)
			})
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local model document")
	cmd.Flags().StringVar(&remote, "remote", "", "remote model or operation document")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the synchronized model to this file")
	cmd.Flags().BoolVar(&boot, "boot", false, "run a boot-time pass")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "fail instead of waiting when another pass is running")
	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, rt *app, local, remote, out string, boot, noWait bool) error {
	doc, err := rt.loader.LoadFile(local)
	if err != nil {
		return err
	}
	if doc.Model == nil {
		return fmt.Errorf("%s is an operation document, sync needs a model", local)
	}

	exec := executor.NewModelExecutor(doc.Model, rt.registry, rt.logger)
	source := config.NewModelSource(exec.Model, rt.registry, rt.filter, rt.logger)
	syncer, err := rt.synchronizer(ctx, source, rt.fileSource(remote), exec)
	if err != nil {
		return err
	}

	mode := engine.PassModeSync
	if boot {
		mode = engine.PassModeBoot
	}
	var result *engine.PassResult
	if noWait {
		result, err = syncer.TrySync(ctx, mode)
	} else {
		result, err = syncer.Sync(ctx, mode)
	}
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
		return fmt.Errorf("sync failed: %w", err)
	}

	if out != "" {
		if err := rt.loader.WriteModel(out, exec.Model()); err != nil {
			return err
		}
		rt.logger.Info().Str("out", out).Msg("Synchronized model written")
	}

	if rt.store != nil {
		if err := recordSync(ctx, rt.store, result, exec); err != nil {
			return err
		}
	}
	return nil
}

// recordSync stores a snapshot of the synchronized model and audits the pass.
func recordSync(ctx context.Context, store *stores.SQLiteStore, result *engine.PassResult, exec *executor.ModelExecutor) error {
	snapshot, err := store.SaveSnapshot(ctx, result.ID, exec.Model())
	if err != nil {
		return err
	}

	details, err := json.Marshal(map[string]interface{}{
		"mode":          result.Mode,
		"operations":    len(result.Batch.Operations),
		"snapshot_hash": snapshot.Hash,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	detailsStr := string(details)
	passID := result.ID

	return store.CreateAuditEntry(ctx, &stores.AuditEntry{
		Action:   "sync.applied",
		Actor:    actor(),
		TargetID: &passID,
		Details:  &detailsStr,
	})
}

func actor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "modelsync"
}
