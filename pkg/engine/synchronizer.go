package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/modelsync/pkg/model"
)

// rootAttributeNames are read-only attributes of the root resource copied
// from the remote model after a pass, outside the operation batch.
var rootAttributeNames = []string{
	"management-major-version",
	"management-minor-version",
	"management-micro-version",
	"product-name",
	"product-version",
	"release-codename",
	"release-version",
	"namespaces",
	"name",
	"schema-locations",
}

// MetricsRecorder receives pass measurements.
type MetricsRecorder interface {
	RecordPass(mode, status string, duration time.Duration)
	RecordOperations(bucket string, count int)
	RecordUnresolved(count int)
}

// SynchronizerConfig wires the collaborators of a Synchronizer.
type SynchronizerConfig struct {
	// Registry resolves resource descriptions. Required.
	Registry SchemaRegistry

	// Local describes the local model. Required.
	Local LocalSource

	// Remote fetches the authority's model. Required.
	Remote RemoteSource

	// Executor applies batches. Required for Sync.
	Executor Executor

	// Extensions loads modules declared remotely but missing locally.
	Extensions ExtensionLoader

	// Lock serializes passes. Defaults to a process-local lock.
	Lock ModelLock

	// Excluded drops operations for matching addresses.
	Excluded ExcludePredicate

	// Recorder persists pass results.
	Recorder PassRecorder

	// Fetcher runs after a successful submitted pass.
	Fetcher MissingConfigurationFetcher

	// Parameters are lifecycle hooks around each pass.
	Parameters SyncParameters

	// Events receives pass events.
	Events EventPublisher

	// Metrics receives pass measurements.
	Metrics MetricsRecorder

	// Logger is the component logger.
	Logger zerolog.Logger
}

// Synchronizer drives synchronization passes: it builds the local and remote
// trees, reconciles them and submits the resulting batch.
type Synchronizer struct {
	cfg    SynchronizerConfig
	lock   ModelLock
	tracer trace.Tracer
	logger zerolog.Logger

	// mu protects status
	mu     sync.RWMutex
	status PassStatus

	diffs singleflight.Group
}

// NewSynchronizer validates cfg and creates a Synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Registry == nil {
		return nil, NewPermanentError("schema registry is nil", nil).WithCode(ErrCodeValidation)
	}
	if cfg.Local == nil {
		return nil, NewPermanentError("local source is nil", nil).WithCode(ErrCodeValidation)
	}
	if cfg.Remote == nil {
		return nil, NewPermanentError("remote source is nil", nil).WithCode(ErrCodeValidation)
	}

	lock := cfg.Lock
	if lock == nil {
		lock = NewLocalLock()
	}

	return &Synchronizer{
		cfg:    cfg,
		lock:   lock,
		tracer: otel.Tracer("github.com/openfroyo/modelsync/pkg/engine"),
		logger: cfg.Logger.With().Str("component", "synchronizer").Logger(),
		status: PassStatusIdle,
	}, nil
}

// Status returns the state of the current pass.
func (s *Synchronizer) Status() PassStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Sync runs a pass that submits the computed batch. mode is PassModeSync or
// PassModeBoot.
func (s *Synchronizer) Sync(ctx context.Context, mode PassMode) (*PassResult, error) {
	if err := s.checkSync(mode); err != nil {
		return nil, err
	}
	return s.run(ctx, mode, true)
}

// TrySync is Sync without waiting: when another pass holds the model lock
// it fails at once with a conflict error coded ErrCodePassInProgress.
func (s *Synchronizer) TrySync(ctx context.Context, mode PassMode) (*PassResult, error) {
	if err := s.checkSync(mode); err != nil {
		return nil, err
	}
	return s.run(ctx, mode, false)
}

// Diff computes the batch without submitting it. Concurrent callers share
// the result of a single pass. The shared pass is not cancelled by any one
// caller; each caller stops waiting when its own ctx is done.
func (s *Synchronizer) Diff(ctx context.Context) (*PassResult, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.diffs.DoChan("diff", func() (interface{}, error) {
		return s.run(shared, PassModeDiff, true)
	})
	select {
	case res := <-ch:
		result, _ := res.Val.(*PassResult)
		return result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Synchronizer) checkSync(mode PassMode) error {
	if mode != PassModeSync && mode != PassModeBoot {
		return NewPermanentError(fmt.Sprintf("invalid sync mode %q", mode), nil).
			WithCode(ErrCodeValidation)
	}
	if s.cfg.Executor == nil {
		return NewPermanentError("executor is nil", nil).WithCode(ErrCodeValidation)
	}
	return nil
}

func (s *Synchronizer) acquire(ctx context.Context, wait bool) error {
	if !wait {
		if !s.lock.TryLock() {
			return NewConflictError("synchronization pass already in progress", nil).
				WithCode(ErrCodePassInProgress)
		}
		return nil
	}
	if err := s.lock.Lock(ctx); err != nil {
		return NewTransientError("failed to acquire model lock", err).WithCode(ErrCodeTimeout)
	}
	return nil
}

func (s *Synchronizer) run(ctx context.Context, mode PassMode, wait bool) (result *PassResult, err error) {
	result = &PassResult{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    PassStatusIdle,
		StartedAt: time.Now(),
	}
	logger := s.logger.With().Str("pass_id", result.ID).Str("mode", string(mode)).Logger()

	ctx, span := s.tracer.Start(ctx, "sync.pass", trace.WithAttributes(
		attribute.String("pass.id", result.ID),
		attribute.String("pass.mode", string(mode)),
	))
	defer span.End()

	if err := s.acquire(ctx, wait); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	s.publish(ctx, result.ID, EventTypePassStarted, "Pass started", nil)
	logger.Info().Msg("Synchronization pass started")

	if s.cfg.Parameters != nil {
		if err := s.cfg.Parameters.InitializeModelSync(ctx); err != nil {
			return s.fail(ctx, span, result, NewPermanentError("failed to initialize model sync", err))
		}
	}

	err = s.execute(ctx, result, logger)
	if err != nil {
		return s.fail(ctx, span, result, err)
	}

	s.transition(result, PassStatusComplete)
	result.CompletedAt = time.Now()
	if s.cfg.Parameters != nil {
		s.cfg.Parameters.Complete(ctx, false)
	}
	s.finish(ctx, result)
	span.SetStatus(codes.Ok, "")
	logger.Info().
		Dur("duration", result.Duration()).
		Int("excluded", result.Excluded).
		Msg("Synchronization pass completed")
	return result, nil
}

// execute performs the pass body while the lock is held.
func (s *Synchronizer) execute(ctx context.Context, result *PassResult, logger zerolog.Logger) error {
	s.transition(result, PassStatusBuildingLocalTree)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var remoteDesc *ModelDescription
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		_, span := s.tracer.Start(gctx, "sync.fetch_remote")
		defer span.End()
		desc, err := s.cfg.Remote.ReadOperations(gctx)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to read remote model: %w", err)
		}
		remoteDesc = desc
		return nil
	})

	localDesc, localTree, err := s.buildLocal(gctx)
	if err != nil {
		cancel()
		if remoteErr := g.Wait(); remoteErr != nil {
			if errors.Is(err, context.Canceled) {
				return remoteErr
			}
			logger.Debug().Err(remoteErr).Msg("Remote fetch abandoned after local failure")
		}
		return err
	}

	s.transition(result, PassStatusAwaitingRemoteTree)
	if err := g.Wait(); err != nil {
		return err
	}
	if remoteDesc == nil {
		return NewPermanentError("remote source returned no model", nil).WithCode(ErrCodeValidation)
	}

	remoteTree, err := BuildTree(remoteDesc.Operations, remoteDesc.OrderedChildTypes)
	if err != nil {
		return fmt.Errorf("failed to build remote tree: %w", err)
	}

	s.transition(result, PassStatusReconciling)
	localExt := ExtensionModules(localDesc.Operations)
	remoteExt := ExtensionModules(remoteDesc.Operations)
	result.MissingExtensions = MissingExtensions(localExt, remoteExt)
	result.SuperfluousExtensions = MissingExtensions(remoteExt, localExt)

	if result.Mode != PassModeDiff && len(result.MissingExtensions) > 0 {
		if err := s.loadExtensions(ctx, result, logger); err != nil {
			return err
		}
	}

	ops, err := ComputeSyncOperations(localTree, remoteTree, s.cfg.Registry, s.cfg.Excluded,
		WithBooting(result.Mode == PassModeBoot),
		WithLogger(logger),
	)
	if err != nil {
		return err
	}

	result.Excluded = ops.Excluded()
	result.Unresolved = ops.Unresolved()
	result.Buckets = ops.Counts()
	for _, address := range result.Unresolved {
		s.publish(ctx, result.ID, EventTypeUnresolved, "No registration for "+address.String(),
			map[string]interface{}{"address": address.String(), "code": ErrCodeUnresolved})
	}

	result.Batch = &Batch{
		Operations:     ops.ReverseList(),
		RootAttributes: rootAttributes(localDesc.RootAttributes, remoteDesc.RootAttributes),
	}

	if result.Mode == PassModeDiff {
		result.Diff = &DiffResult{
			ExtensionOps: extensionOperations(result.MissingExtensions, result.SuperfluousExtensions),
			SyncOps:      result.Batch.Operations,
		}
		return nil
	}

	s.transition(result, PassStatusSubmitting)
	if ops.IsEmpty() && len(result.Batch.RootAttributes) == 0 {
		logger.Debug().Msg("Models are in sync, nothing to submit")
		return nil
	}

	report, err := s.cfg.Executor.Execute(ctx, result.Batch)
	if err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	result.Report = report
	if !report.Succeeded() {
		failed := ""
		if report.Failed != nil {
			failed = report.Failed.String()
		}
		opErr := NewOperationFailedError(failed, report.FailureDescription)
		if report.FailureCode != "" {
			opErr.WithDetail("failure_code", report.FailureCode)
		}
		return opErr
	}

	if s.cfg.Fetcher != nil {
		if err := s.cfg.Fetcher.FetchMissingConfiguration(ctx, ops.AllOps()); err != nil {
			return fmt.Errorf("failed to fetch missing configuration: %w", err)
		}
	}
	return nil
}

func (s *Synchronizer) buildLocal(ctx context.Context) (*ModelDescription, *Node, error) {
	_, span := s.tracer.Start(ctx, "sync.build_local")
	defer span.End()

	desc, err := s.cfg.Local.ReadOperations(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to read local model: %w", err)
	}
	if desc == nil {
		return nil, nil, NewPermanentError("local source returned no model", nil).WithCode(ErrCodeValidation)
	}
	tree, err := BuildTree(desc.Operations, desc.OrderedChildTypes)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to build local tree: %w", err)
	}
	return desc, tree, nil
}

func (s *Synchronizer) loadExtensions(ctx context.Context, result *PassResult, logger zerolog.Logger) error {
	if s.cfg.Extensions == nil {
		return NewMissingExtensionError(result.MissingExtensions, nil)
	}
	var failed []string
	var firstErr error
	for _, module := range result.MissingExtensions {
		if err := s.cfg.Extensions.Load(ctx, module); err != nil {
			logger.Error().Err(err).Str("module", module).Msg("Failed to load extension")
			failed = append(failed, module)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.publish(ctx, result.ID, EventTypeExtensionLoaded, "Loaded extension "+module,
			map[string]interface{}{"module": module})
	}
	if len(failed) > 0 {
		return NewMissingExtensionError(failed, firstErr)
	}
	return nil
}

func (s *Synchronizer) fail(ctx context.Context, span trace.Span, result *PassResult, err error) (*PassResult, error) {
	s.transition(result, PassStatusFailed)
	result.CompletedAt = time.Now()

	var ee *EngineError
	if !errors.As(err, &ee) {
		ee = NewPermanentError("synchronization pass failed", err)
	}
	result.Error = ee

	if s.cfg.Parameters != nil {
		s.cfg.Parameters.Complete(ctx, true)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error().Err(err).Str("pass_id", result.ID).Msg("Synchronization pass failed")
	s.finish(ctx, result)
	return result, err
}

// finish records metrics, events and the pass history, then returns the
// synchronizer to idle.
func (s *Synchronizer) finish(ctx context.Context, result *PassResult) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPass(string(result.Mode), string(result.Status), result.Duration())
		for bucket, n := range result.Buckets {
			s.cfg.Metrics.RecordOperations(string(bucket), n)
		}
		s.cfg.Metrics.RecordUnresolved(len(result.Unresolved))
	}

	if result.Status == PassStatusComplete {
		s.publish(ctx, result.ID, EventTypePassCompleted, "Pass completed",
			map[string]interface{}{"duration_ms": result.Duration().Milliseconds()})
	} else {
		msg := "Pass failed"
		if result.Error != nil {
			msg = fmt.Sprintf("Pass failed: %v", result.Error)
		}
		s.publish(ctx, result.ID, EventTypePassFailed, msg, nil)
	}

	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.RecordPass(ctx, result); err != nil {
			s.logger.Warn().Err(err).Str("pass_id", result.ID).Msg("Failed to record pass")
		}
	}

	s.mu.Lock()
	s.status = PassStatusIdle
	s.mu.Unlock()
}

func (s *Synchronizer) transition(result *PassResult, next PassStatus) {
	s.mu.Lock()
	s.status = next
	s.mu.Unlock()

	prev := result.Status
	result.Status = next
	if !prev.CanTransition(next) {
		s.logger.Warn().
			Str("pass_id", result.ID).
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("Unexpected pass status transition")
		return
	}
	s.logger.Debug().
		Str("pass_id", result.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("Pass status changed")
}

func (s *Synchronizer) publish(ctx context.Context, passID string, eventType EventType, message string, details map[string]interface{}) {
	if s.cfg.Events == nil {
		return
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		PassID:    passID,
		Message:   message,
		Details:   details,
		Level:     eventType.Severity(),
	}
	if address, ok := details["address"].(string); ok {
		event.Address = address
	}
	if err := s.cfg.Events.Publish(ctx, event); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to publish event")
	}
}

// rootAttributes returns the well-known root attributes defined remotely
// whose value differs locally.
func rootAttributes(local, remote map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, name := range rootAttributeNames {
		if model.IsDefined(remote, name) && !model.ValuesEqual(local[name], remote[name]) {
			out[name] = remote[name]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtensionModules returns the sorted names of the extensions added by ops.
func ExtensionModules(ops []model.Operation) []string {
	var modules []string
	for _, op := range ops {
		if op.Name != model.OpAdd || len(op.Address) != 1 || op.Address[0].Key != extensionType {
			continue
		}
		modules = append(modules, op.Address[0].Value)
	}
	sort.Strings(modules)
	return modules
}

// MissingExtensions returns the modules of want that have does not contain.
func MissingExtensions(have, want []string) []string {
	present := make(map[string]bool, len(have))
	for _, m := range have {
		present[m] = true
	}
	var missing []string
	for _, m := range want {
		if !present[m] {
			missing = append(missing, m)
		}
	}
	return missing
}

// extensionOperations lists the adds for missing extensions followed by the
// removes for superfluous ones.
func extensionOperations(missing, superfluous []string) []model.Operation {
	var ops []model.Operation
	for _, m := range missing {
		ops = append(ops, model.NewAdd(model.NewPath(extensionType, m), map[string]interface{}{"module": m}))
	}
	for _, m := range superfluous {
		ops = append(ops, model.NewRemove(model.NewPath(extensionType, m), false))
	}
	return ops
}
