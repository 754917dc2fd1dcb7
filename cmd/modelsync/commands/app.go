package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/modelsync/pkg/config"
	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/policy"
	"github.com/openfroyo/modelsync/pkg/schema"
	"github.com/openfroyo/modelsync/pkg/stores"
	"github.com/openfroyo/modelsync/pkg/telemetry"
)

// app holds the collaborators shared by every command.
type app struct {
	settings   *Settings
	telemetry  *telemetry.Telemetry
	logger     zerolog.Logger
	registry   *schema.Registry
	extensions *schema.ExtensionLoader
	filter     *engine.PathFilter
	policies   *policy.Engine
	loader     *config.Loader
	store      *stores.SQLiteStore
	stop       context.CancelFunc
}

// withApp builds the app, runs fn inside a command span and tears
// everything down afterwards.
func withApp(cmd *cobra.Command, name string, fn func(ctx context.Context, rt *app) error) error {
	settings, err := LoadSettings(configPath)
	if err != nil {
		return err
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	if dbPath != "" {
		settings.Database = dbPath
	}

	ctx := cmd.Context()
	rt, err := newApp(ctx, settings)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx = rt.telemetry.WithContext(ctx)
	ctx, span := rt.telemetry.Tracer.StartCommand(ctx, name)
	defer span.End()

	return fn(ctx, rt)
}

func newApp(ctx context.Context, settings *Settings) (*app, error) {
	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt := &app{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
		filter:    settings.PathFilter(),
		loader:    config.NewLoader(),
	}

	rt.registry = schema.NewRegistry(schema.WithLogger(rt.logger))
	if err := rt.registry.LoadDir(settings.SchemaDir); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if settings.ExtensionDir != "" {
		rt.extensions = schema.NewExtensionLoader(rt.registry, settings.ExtensionDir, rt.logger)
	}

	var opts []policy.Option
	if settings.ServerMode {
		opts = append(opts, policy.WithServerDefaults())
	}
	if len(settings.ReadOnlyPaths) > 0 {
		opts = append(opts, policy.WithReadOnlyPaths(settings.ReadOnlyPaths...))
	}
	rt.policies, err = policy.NewEngine(ctx, rt.logger, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	if settings.PolicyDir != "" {
		if err := rt.policies.LoadPolicies(ctx, []string{settings.PolicyDir}); err != nil {
			rt.close()
			return nil, err
		}
	}

	if settings.Database != "" {
		if err := rt.openStore(ctx); err != nil {
			rt.close()
			return nil, err
		}
	}

	serveCtx, stop := context.WithCancel(ctx)
	rt.stop = stop
	go func() {
		if err := tel.Metrics.Serve(serveCtx, rt.logger); err != nil {
			rt.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return rt, nil
}

func (rt *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: rt.settings.Database})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}
	rt.store = store

	rt.telemetry.Events.Subscribe(func(event engine.Event) {
		if err := store.AppendEvent(context.Background(), event); err != nil {
			rt.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to store event")
		}
	}, nil)
	return nil
}

func (rt *app) close() {
	if rt.stop != nil {
		rt.stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close pass history")
		}
	}
}

// synchronizer wires a Synchronizer for local and remote. exec may be nil
// for dry runs.
func (rt *app) synchronizer(ctx context.Context, local engine.LocalSource, remote engine.RemoteSource, exec engine.Executor) (*engine.Synchronizer, error) {
	cfg := engine.SynchronizerConfig{
		Registry: rt.registry,
		Local:    local,
		Remote:   remote,
		Executor: exec,
		Excluded: engine.AnyExcludes(rt.filter.Excludes, rt.policies.Predicate(ctx)),
		Events:   rt.telemetry.Events,
		Metrics:  rt.telemetry.Metrics,
		Logger:   rt.logger,
	}
	if rt.extensions != nil {
		cfg.Extensions = rt.extensions
	}
	if rt.store != nil {
		cfg.Recorder = rt.store
	}
	return engine.NewSynchronizer(cfg)
}

func (rt *app) fileSource(path string) *config.FileSource {
	return config.NewFileSource(path, rt.loader, rt.registry, rt.filter, rt.logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPass writes a human-readable summary of a pass.
func printPass(w io.Writer, result *engine.PassResult) {
	fmt.Fprintf(w, "Pass %s (%s): %s in %s\n", result.ID, result.Mode, result.Status, result.Duration().Round(time.Millisecond))

	if len(result.MissingExtensions) > 0 {
		fmt.Fprintf(w, "Missing extensions: %v\n", result.MissingExtensions)
	}
	if len(result.SuperfluousExtensions) > 0 {
		fmt.Fprintf(w, "Superfluous extensions: %v\n", result.SuperfluousExtensions)
	}
	for _, address := range result.Unresolved {
		fmt.Fprintf(w, "Unresolved: %s\n", address)
	}
	if result.Excluded > 0 {
		fmt.Fprintf(w, "Excluded operations: %d\n", result.Excluded)
	}

	if result.Diff != nil {
		for _, op := range result.Diff.ExtensionOps {
			fmt.Fprintf(w, "  extension-op %s\n", op)
		}
		for _, op := range result.Diff.SyncOps {
			fmt.Fprintf(w, "  sync-op %s\n", op)
		}
		if len(result.Diff.ExtensionOps)+len(result.Diff.SyncOps) == 0 {
			fmt.Fprintln(w, "  in sync")
		}
	}

	if result.Report != nil {
		fmt.Fprintf(w, "Applied %d operations\n", len(result.Report.Applied))
		if result.Report.Failed != nil {
			fmt.Fprintf(w, "Failed: %s: %s\n", result.Report.Failed, result.Report.FailureDescription)
		}
	}
	if result.Error != nil {
		fmt.Fprintf(w, "Error: %v\n", result.Error)
	}
}
