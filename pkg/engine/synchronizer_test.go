package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/modelsync/pkg/model"
)

type staticSource struct {
	desc  *ModelDescription
	err   error
	delay time.Duration
}

func (s *staticSource) ReadOperations(ctx context.Context) (*ModelDescription, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.desc, s.err
}

type mockExecutor struct {
	mu      sync.Mutex
	batches []*Batch
	report  *ExecutionReport
}

func (m *mockExecutor) Execute(ctx context.Context, batch *Batch) (*ExecutionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	if m.report != nil {
		return m.report, nil
	}
	return &ExecutionReport{Applied: batch.Operations}, nil
}

type mockLoader struct {
	loaded []string
	fail   map[string]bool
}

func (m *mockLoader) Load(ctx context.Context, module string) error {
	if m.fail[module] {
		return errors.New("module not found")
	}
	m.loaded = append(m.loaded, module)
	return nil
}

type mockRecorder struct {
	results []*PassResult
}

func (m *mockRecorder) RecordPass(ctx context.Context, result *PassResult) error {
	m.results = append(m.results, result)
	return nil
}

type mockParameters struct {
	initialized int
	rollbacks   []bool
}

func (m *mockParameters) InitializeModelSync(ctx context.Context) error {
	m.initialized++
	return nil
}

func (m *mockParameters) Complete(ctx context.Context, rollback bool) {
	m.rollbacks = append(m.rollbacks, rollback)
}

type mockFetcher struct {
	ops []model.Operation
}

func (m *mockFetcher) FetchMissingConfiguration(ctx context.Context, operations []model.Operation) error {
	m.ops = operations
	return nil
}

type mockEvents struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEvents) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEvents) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func newTestSynchronizer(t *testing.T, local, remote []model.Operation, mutate func(*SynchronizerConfig)) (*Synchronizer, *SynchronizerConfig) {
	t.Helper()
	cfg := SynchronizerConfig{
		Registry: newMockRegistry(),
		Local:    &staticSource{desc: &ModelDescription{Operations: local}},
		Remote: &staticSource{desc: &ModelDescription{
			Operations:     remote,
			RootAttributes: map[string]interface{}{"product-name": "Acme", "uptime": 5.0},
		}},
		Executor: &mockExecutor{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSynchronizer(cfg)
	require.NoError(t, err)
	return s, &cfg
}

func TestNewSynchronizer_Validation(t *testing.T) {
	_, err := NewSynchronizer(SynchronizerConfig{})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	_, err = NewSynchronizer(SynchronizerConfig{Registry: newMockRegistry(), Local: &staticSource{}})
	require.Error(t, err)
}

func TestSynchronizer_Sync(t *testing.T) {
	recorder := &mockRecorder{}
	params := &mockParameters{}
	fetcher := &mockFetcher{}
	events := &mockEvents{}

	s, cfg := newTestSynchronizer(t,
		[]model.Operation{add("/system-property=a", attrs("value", "1"))},
		[]model.Operation{add("/system-property=a", attrs("value", "2")), add("/profile=default", nil)},
		func(c *SynchronizerConfig) {
			c.Recorder = recorder
			c.Parameters = params
			c.Fetcher = fetcher
			c.Events = events
		})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.NoError(t, err)
	assert.Equal(t, PassStatusComplete, result.Status)
	assert.Equal(t, PassStatusIdle, s.Status())
	assert.NotEmpty(t, result.ID)

	exec := cfg.Executor.(*mockExecutor)
	require.Len(t, exec.batches, 1)
	batch := exec.batches[0]
	require.Len(t, batch.Operations, 1)
	assert.Equal(t, []string{
		"write-attribute /system-property=a",
		"add /profile=default",
	}, describe(batch.Operations[0].Steps))
	assert.Equal(t, map[string]interface{}{"product-name": "Acme"}, batch.RootAttributes)

	assert.Len(t, fetcher.ops, 2)
	assert.Equal(t, 1, params.initialized)
	assert.Equal(t, []bool{false}, params.rollbacks)
	require.Len(t, recorder.results, 1)
	assert.Same(t, result, recorder.results[0])
	assert.Equal(t, []EventType{EventTypePassStarted, EventTypePassCompleted}, events.types())
}

func TestSynchronizer_SyncInSyncSkipsExecutor(t *testing.T) {
	ops := []model.Operation{add("/system-property=a", attrs("value", "1"))}
	s, cfg := newTestSynchronizer(t, ops, ops, func(c *SynchronizerConfig) {
		c.Remote = &staticSource{desc: &ModelDescription{Operations: ops}}
	})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.NoError(t, err)
	assert.Equal(t, PassStatusComplete, result.Status)
	assert.Empty(t, cfg.Executor.(*mockExecutor).batches)
}

func TestSynchronizer_RootAttributesOnlyWhenChanged(t *testing.T) {
	ops := []model.Operation{add("/system-property=a", attrs("value", "1"))}
	s, cfg := newTestSynchronizer(t, ops, ops, func(c *SynchronizerConfig) {
		c.Local = &staticSource{desc: &ModelDescription{
			Operations:     ops,
			RootAttributes: map[string]interface{}{"product-name": "Acme", "release-version": "1.0"},
		}}
		c.Remote = &staticSource{desc: &ModelDescription{
			Operations:     ops,
			RootAttributes: map[string]interface{}{"product-name": "Acme", "release-version": "2.0"},
		}}
	})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"release-version": "2.0"}, result.Batch.RootAttributes)
	require.Len(t, cfg.Executor.(*mockExecutor).batches, 1)
	assert.Empty(t, cfg.Executor.(*mockExecutor).batches[0].Operations)
}

func TestSynchronizer_MissingExtension(t *testing.T) {
	local := []model.Operation{add("/extension=org.a", nil)}
	remote := []model.Operation{
		add("/extension=org.a", nil),
		add("/extension=org.b", nil),
		add("/extension=org.c", nil),
		add("/system-property=x", attrs("value", "y")),
	}

	t.Run("no loader", func(t *testing.T) {
		s, cfg := newTestSynchronizer(t, local, remote, nil)
		result, err := s.Sync(context.Background(), PassModeSync)
		require.Error(t, err)
		assert.True(t, IsMissingExtension(err))
		assert.Equal(t, PassStatusFailed, result.Status)
		assert.Equal(t, []string{"org.b", "org.c"}, result.MissingExtensions)
		assert.Nil(t, result.Batch, "no operation may be emitted")
		assert.Empty(t, cfg.Executor.(*mockExecutor).batches)
	})

	t.Run("loader fails for one", func(t *testing.T) {
		loader := &mockLoader{fail: map[string]bool{"org.c": true}}
		s, _ := newTestSynchronizer(t, local, remote, func(c *SynchronizerConfig) { c.Extensions = loader })
		result, err := s.Sync(context.Background(), PassModeSync)
		require.Error(t, err)
		assert.True(t, IsMissingExtension(err))
		assert.Equal(t, []string{"org.c"}, result.Error.Details["modules"])
	})

	t.Run("loader succeeds", func(t *testing.T) {
		loader := &mockLoader{}
		s, cfg := newTestSynchronizer(t, local, remote, func(c *SynchronizerConfig) { c.Extensions = loader })
		result, err := s.Sync(context.Background(), PassModeSync)
		require.NoError(t, err)
		assert.Equal(t, []string{"org.b", "org.c"}, loader.loaded)

		batch := cfg.Executor.(*mockExecutor).batches[0]
		assert.Equal(t, []string{"composite /", "add /extension=org.b", "add /extension=org.c"}, describe(batch.Operations))
		assert.Equal(t, 2, result.Buckets[BucketExtensionAdds])
	})
}

func TestSynchronizer_Diff(t *testing.T) {
	s, cfg := newTestSynchronizer(t,
		[]model.Operation{add("/extension=org.old", nil), add("/system-property=a", attrs("value", "1"))},
		[]model.Operation{add("/extension=org.new", nil), add("/system-property=a", attrs("value", "2"))},
		nil)

	result, err := s.Diff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassModeDiff, result.Mode)
	assert.Equal(t, PassStatusComplete, result.Status)
	require.NotNil(t, result.Diff)
	assert.Equal(t, []string{"add /extension=org.new", "remove /extension=org.old"}, describe(result.Diff.ExtensionOps))
	assert.Equal(t, []string{"composite /", "add /extension=org.new", "remove /extension=org.old"}, describe(result.Diff.SyncOps))
	assert.Equal(t, []string{"org.old"}, result.SuperfluousExtensions)
	assert.Empty(t, cfg.Executor.(*mockExecutor).batches)
}

func TestSynchronizer_ConcurrentDiffsShareOnePass(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, []model.Operation{add("/profile=p", nil)}, func(c *SynchronizerConfig) {
		c.Remote = &staticSource{
			desc:  &ModelDescription{Operations: []model.Operation{add("/profile=p", nil)}},
			delay: 50 * time.Millisecond,
		}
	})

	var wg sync.WaitGroup
	results := make([]*PassResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Diff(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, r := range results {
		require.NotNil(t, r)
		ids[r.ID] = true
	}
	assert.LessOrEqual(t, len(ids), 2)
}

func TestSynchronizer_ExecutionFailure(t *testing.T) {
	failed := add("/profile=default", nil)
	params := &mockParameters{}
	fetcher := &mockFetcher{}
	s, _ := newTestSynchronizer(t, nil, []model.Operation{failed}, func(c *SynchronizerConfig) {
		c.Executor = &mockExecutor{report: &ExecutionReport{
			Failed:             &failed,
			FailureDescription: "duplicate resource",
		}}
		c.Parameters = params
		c.Fetcher = fetcher
	})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.True(t, IsOperationFailed(err))
	assert.Contains(t, err.Error(), "duplicate resource")
	assert.Equal(t, PassStatusFailed, result.Status)
	assert.Equal(t, []bool{true}, params.rollbacks)
	assert.Nil(t, fetcher.ops, "post-pass fetch only runs after success")
}

func TestSynchronizer_RemoteFailure(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) {
		c.Remote = &staticSource{err: NewTransientError("connection refused", nil)}
	})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, PassStatusFailed, result.Status)
}

func TestSynchronizer_InvalidLocalTree(t *testing.T) {
	s, _ := newTestSynchronizer(t, []model.Operation{add("/profile=*", nil)}, nil, nil)

	_, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.True(t, IsInvalidTreeState(err))
}

func TestSynchronizer_LockHeldAcrossPass(t *testing.T) {
	lock := NewLocalLock()
	require.True(t, lock.TryLock())

	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) { c.Lock = lock })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Sync(ctx, PassModeSync)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	lock.Unlock()
	_, err = s.Sync(context.Background(), PassModeSync)
	require.NoError(t, err)
	assert.True(t, lock.TryLock(), "pass must release the lock")
}

func TestSynchronizer_InvalidMode(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, nil)
	_, err := s.Sync(context.Background(), PassModeDiff)
	require.Error(t, err)
}

func TestExtensionModules(t *testing.T) {
	ops := []model.Operation{
		add("/extension=b", nil),
		add("/extension=a", nil),
		add("/extension=a/subsystem=x", nil),
		model.NewRemove(model.MustParsePath("/extension=c"), false),
	}
	assert.Equal(t, []string{"a", "b"}, ExtensionModules(ops))
	assert.Equal(t, []string{"c"}, MissingExtensions([]string{"a", "b"}, []string{"a", "c"}))
}

func TestPassStatus(t *testing.T) {
	assert.True(t, PassStatusIdle.CanTransition(PassStatusBuildingLocalTree))
	assert.False(t, PassStatusIdle.CanTransition(PassStatusSubmitting))
	assert.True(t, PassStatusReconciling.CanTransition(PassStatusComplete))
	assert.True(t, PassStatusFailed.IsTerminal())
	assert.True(t, PassStatusSubmitting.IsActive())
	assert.Error(t, PassStatus("bogus").Validate())
}

func TestSynchronizer_LocalSourceWithoutModel(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) {
		c.Local = &staticSource{}
	})

	result, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
	assert.Contains(t, err.Error(), "local source returned no model")
	assert.Equal(t, PassStatusFailed, result.Status)
}

func TestSynchronizer_LocalFailureCancelsRemoteFetch(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) {
		c.Local = &staticSource{err: errors.New("local broken")}
		c.Remote = &staticSource{desc: &ModelDescription{}, delay: 5 * time.Second}
	})

	start := time.Now()
	_, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local broken")
	assert.Less(t, time.Since(start), time.Second, "remote fetch must be cancelled")
}

func TestSynchronizer_RemoteFailureWinsOverCancelledLocal(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) {
		c.Local = &staticSource{desc: &ModelDescription{}, delay: 5 * time.Second}
		c.Remote = &staticSource{err: NewTransientError("connection refused", nil)}
	})

	_, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSynchronizer_TrySync(t *testing.T) {
	lock := NewLocalLock()
	s, _ := newTestSynchronizer(t, nil, []model.Operation{add("/profile=p", nil)}, func(c *SynchronizerConfig) {
		c.Lock = lock
	})

	require.True(t, lock.TryLock())
	result, err := s.TrySync(context.Background(), PassModeSync)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsConflict(err))
	assert.Equal(t, ErrCodePassInProgress, CodeOf(err))

	lock.Unlock()
	result, err = s.TrySync(context.Background(), PassModeSync)
	require.NoError(t, err)
	assert.Equal(t, PassStatusComplete, result.Status)
	assert.True(t, lock.TryLock(), "pass must release the lock")

	_, err = s.TrySync(context.Background(), PassModeDiff)
	require.Error(t, err)
}

func TestSynchronizer_DiffCallerCancellation(t *testing.T) {
	s, _ := newTestSynchronizer(t, nil, nil, func(c *SynchronizerConfig) {
		c.Remote = &staticSource{
			desc:  &ModelDescription{Operations: []model.Operation{add("/profile=p", nil)}},
			delay: 200 * time.Millisecond,
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Diff(ctx)
		first <- err
	}()

	time.Sleep(20 * time.Millisecond)
	second := make(chan *PassResult, 1)
	go func() {
		r, err := s.Diff(context.Background())
		assert.NoError(t, err)
		second <- r
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	select {
	case r := <-second:
		require.NotNil(t, r)
		assert.Equal(t, PassStatusComplete, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("joined diff did not complete")
	}
}

func TestSynchronizer_UnresolvedEventsCarryCode(t *testing.T) {
	events := &mockEvents{}
	s, _ := newTestSynchronizer(t, nil, []model.Operation{add("/widget=w", nil)}, func(c *SynchronizerConfig) {
		c.Events = events
	})

	result, err := s.Diff(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Unresolved, 1)

	events.mu.Lock()
	defer events.mu.Unlock()
	var found bool
	for _, e := range events.events {
		if e.Type != EventTypeUnresolved {
			continue
		}
		found = true
		assert.Equal(t, "/widget=w", e.Address)
		assert.Equal(t, ErrCodeUnresolved, e.Details["code"])
	}
	assert.True(t, found)
}

func TestSynchronizer_ExecutionFailureCode(t *testing.T) {
	failed := add("/profile=default", nil)
	s, _ := newTestSynchronizer(t, nil, []model.Operation{failed}, func(c *SynchronizerConfig) {
		c.Executor = &mockExecutor{report: &ExecutionReport{
			Failed:             &failed,
			FailureDescription: "no such resource type /profile=default",
			FailureCode:        ErrCodeNoSuchResource,
		}}
	})

	_, err := s.Sync(context.Background(), PassModeSync)
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeOperationFailed, ee.Code)
	assert.Equal(t, ErrCodeNoSuchResource, ee.Details["failure_code"])
}

func TestEngineError_Format(t *testing.T) {
	assert.Equal(t, "[permanent] bad", NewPermanentError("bad", nil).Error())
	assert.Equal(t, "[transient] lock (resource=/a=b, operation=add): boom",
		NewTransientError("lock", errors.New("boom")).WithResource("/a=b").WithOperation("add").Error())
	assert.True(t, errors.Is(NewConflictError("x", nil).WithCode(ErrCodePassInProgress),
		&EngineError{Class: ErrorClassConflict, Code: ErrCodePassInProgress}))
	assert.Empty(t, CodeOf(errors.New("plain")))
}
