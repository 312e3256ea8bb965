package tasksync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/storage"
	"github.com/slok/taskdash/internal/storage/memory"
	"github.com/slok/taskdash/internal/storage/storagemock"
	"github.com/slok/taskdash/internal/storage/storagetest"
	"github.com/slok/taskdash/internal/tasksync"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type staticIdentity struct {
	mu      sync.Mutex
	loading bool
	userID  string
}

func (s *staticIdentity) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *staticIdentity) Identity() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		return model.Identity{}
	}
	return model.Identity{User: &model.User{ID: s.userID, Email: s.userID + "@example.com"}}
}

func (s *staticIdentity) set(loading bool, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
	s.userID = userID
}

// countingRepo counts the task list queries.
type countingRepo struct {
	storage.TaskRepository

	mu    sync.Mutex
	lists int
}

func (c *countingRepo) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.TaskRepository.ListTasks(ctx, userID)
}

func (c *countingRepo) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

// eventRecorder records the syncer events.
type eventRecorder struct {
	mu     sync.Mutex
	events []tasksync.Event
}

func (e *eventRecorder) record(ev tasksync.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventRecorder) count(kind tasksync.EventKind, key tasksync.Key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind && ev.Key == key {
			n++
		}
	}
	return n
}

type testSyncer struct {
	syncer   *tasksync.Syncer
	repo     *memory.Repository
	counting *countingRepo
	identity *staticIdentity
	clock    *clock.FakeClock
	events   *eventRecorder
}

type testSyncerOpts struct {
	flags      config.Flags
	userID     string
	subscriber realtime.Subscriber
}

func newTestSyncer(t *testing.T, opts testSyncerOpts) *testSyncer {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	storagetest.CreateUser(t, repo, "u1", "u1@example.com")
	storagetest.CreateUser(t, repo, "u2", "u2@example.com")

	clk := clock.NewFake(testNow)
	counting := &countingRepo{TaskRepository: repo}

	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: counting, Clock: clk})
	require.NoError(t, err)
	fixture := newFixtureProvider(t, clk)

	flags := opts.flags
	if flags == nil {
		flags = config.StaticFlags{Configured: true}
	}
	factory, err := tasksync.NewFactory(flags, fixture, live)
	require.NoError(t, err)

	identity := &staticIdentity{userID: opts.userID}
	syncer, err := tasksync.NewSyncer(tasksync.SyncerConfig{
		Factory:    factory,
		Identity:   identity,
		Subscriber: opts.subscriber,
		Ownership:  repo,
		Clock:      clk,
	})
	require.NoError(t, err)

	events := &eventRecorder{}
	syncer.OnChange(events.record)

	return &testSyncer{
		syncer:   syncer,
		repo:     repo,
		counting: counting,
		identity: identity,
		clock:    clk,
		events:   events,
	}
}

func runSyncer(t *testing.T, s *tasksync.Syncer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestFactorySelect(t *testing.T) {
	tests := map[string]struct {
		flags   config.Flags
		userID  string
		expLive bool
	}{
		"A configured backend with a user should use live data.": {
			flags:   config.StaticFlags{Configured: true},
			userID:  "u1",
			expLive: true,
		},
		"The fixture flag should use fixture data.": {
			flags:  config.StaticFlags{Configured: true, Mock: true},
			userID: "u1",
		},
		"A missing backend should use fixture data.": {
			flags:  config.StaticFlags{},
			userID: "u1",
		},
		"A missing user should use fixture data.": {
			flags: config.StaticFlags{Configured: true},
		},
		"Environment flags should be read at call time.": {
			flags:  config.NewMapFlags(map[string]string{config.EnvUseMockData: "true"}),
			userID: "u1",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			fixture := newFixtureProvider(t, clock.NewFake(testNow))
			live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: &storagemock.MockRepository{}})
			require.NoError(t, err)

			f, err := tasksync.NewFactory(test.flags, fixture, live)
			require.NoError(t, err)

			assert.Equal(test.expLive, f.Live(test.userID))
			if test.expLive {
				assert.Same(live, f.Select(test.userID))
			} else {
				assert.Same(fixture, f.Select(test.userID))
			}
		})
	}
}

func TestSyncerFixtureModeNeverTouchesBackend(t *testing.T) {
	tests := map[string]struct {
		flags  config.Flags
		userID string
	}{
		"Fixture flag with a user.": {
			flags:  config.StaticFlags{Configured: true, Mock: true},
			userID: "u1",
		},
		"No backend configured.": {
			flags:  config.StaticFlags{},
			userID: "u1",
		},
		"Unauthenticated.": {
			flags: config.StaticFlags{Configured: true},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			// Any call on the mock would fail the test.
			m := &storagemock.MockRepository{}
			live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: m})
			require.NoError(err)
			factory, err := tasksync.NewFactory(test.flags, newFixtureProvider(t, clock.NewFake(testNow)), live)
			require.NoError(err)
			syncer, err := tasksync.NewSyncer(tasksync.SyncerConfig{
				Factory:  factory,
				Identity: &staticIdentity{userID: test.userID},
				Clock:    clock.NewFake(testNow),
			})
			require.NoError(err)

			view, err := syncer.Refresh(context.Background())
			require.NoError(err)
			assert.NotEmpty(view.Tasks)
			assert.NoError(view.Err)

			_, err = syncer.SubmitCommand(context.Background(), model.CommandInput{TaskID: "task-1", Command: "echo"})
			require.NoError(err)
			_, err = syncer.CreateTask(context.Background(), model.TaskInput{Name: "x", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
			require.NoError(err)

			m.AssertExpectations(t)
		})
	}
}

func TestSyncerRefreshLive(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})
	ctx := context.Background()
	_, err := ts.repo.CreateTask(ctx, model.Task{UserID: "u1", Name: "Mine", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(err)
	_, err = ts.repo.CreateTask(ctx, model.Task{UserID: "u2", Name: "Other", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(err)

	view, err := ts.syncer.Refresh(ctx)
	require.NoError(err)

	assert.Equal(1, ts.counting.listCount())
	require.Len(view.Tasks, 1)
	assert.Equal("Mine", view.Tasks[0].Name)
	assert.False(view.Loading)
	assert.Equal(testNow, view.UpdatedAt)
	assert.Equal(view, ts.syncer.View(tasksync.TasksKey("u1")))
	assert.Equal(1, ts.events.count(tasksync.EventUpdated, tasksync.TasksKey("u1")))
}

func TestSyncerFetchErrorHasNoTasks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := &storagemock.MockRepository{}
	m.On("ListTasks", mock.Anything, "u1").Once().Return([]model.Task{{ID: "t1"}}, nil)
	m.On("ListTasks", mock.Anything, "u1").Once().Return(nil, errors.New("timeout"))

	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: m})
	require.NoError(err)
	factory, err := tasksync.NewFactory(config.StaticFlags{Configured: true}, newFixtureProvider(t, clock.NewFake(testNow)), live)
	require.NoError(err)
	syncer, err := tasksync.NewSyncer(tasksync.SyncerConfig{Factory: factory, Identity: &staticIdentity{userID: "u1"}})
	require.NoError(err)

	view, err := syncer.Refresh(context.Background())
	require.NoError(err)
	assert.Len(view.Tasks, 1)

	view, err = syncer.Refresh(context.Background())
	assert.ErrorIs(err, tasksync.ErrFetchFailed)
	assert.ErrorIs(view.Err, tasksync.ErrFetchFailed)
	assert.Nil(view.Tasks)

	m.AssertExpectations(t)
}

func TestSyncerLoading(t *testing.T) {
	assert := assert.New(t)

	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})

	ts.identity.set(true, "")
	assert.True(ts.syncer.Tasks().Loading)

	ts.identity.set(false, "u1")
	assert.False(ts.syncer.Tasks().Loading)
}

func TestSyncerCreateTaskScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := &storagemock.MockRepository{}
	expTask := model.Task{UserID: "u1", Name: "Task A", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1}
	m.On("CreateTask", mock.Anything, expTask).Once().Return(&model.Task{
		ID:            "t1",
		UserID:        "u1",
		Name:          "Task A",
		Status:        model.TaskStatusQueued,
		SecurityLevel: model.SecurityLevelClass1,
	}, nil)

	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: m})
	require.NoError(err)
	factory, err := tasksync.NewFactory(config.StaticFlags{Configured: true}, newFixtureProvider(t, clock.NewFake(testNow)), live)
	require.NoError(err)
	syncer, err := tasksync.NewSyncer(tasksync.SyncerConfig{Factory: factory, Identity: &staticIdentity{userID: "u1"}})
	require.NoError(err)

	events := &eventRecorder{}
	syncer.OnChange(events.record)

	task, err := syncer.CreateTask(context.Background(), model.TaskInput{
		Name:          "Task A",
		Status:        model.TaskStatusQueued,
		SecurityLevel: model.SecurityLevelClass1,
		Steps:         []model.StepInput{},
	})
	require.NoError(err)
	assert.Equal("t1", task.ID)

	m.AssertNumberOfCalls(t, "CreateTask", 1)
	m.AssertNotCalled(t, "CreateSteps", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(1, events.count(tasksync.EventInvalidated, tasksync.Key{Scope: "tasks", UserID: "u1"}))
	assert.False(syncer.Pending().CreatingTask)
}

func TestSyncerCreateTaskInvalid(t *testing.T) {
	tests := map[string]struct {
		flags config.Flags
	}{
		"Live mode.":    {flags: config.StaticFlags{Configured: true}},
		"Fixture mode.": {flags: config.StaticFlags{Configured: true, Mock: true}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			ts := newTestSyncer(t, testSyncerOpts{userID: "u1", flags: test.flags})

			task, err := ts.syncer.CreateTask(context.Background(), model.TaskInput{
				Status:        model.TaskStatusQueued,
				SecurityLevel: model.SecurityLevelClass1,
			})
			assert.ErrorIs(err, tasksync.ErrInvalidTask)
			assert.Nil(task)

			tasks, err := ts.repo.ListTasks(context.Background(), "u1")
			require.NoError(t, err)
			assert.Empty(tasks)
			assert.Equal(0, ts.events.count(tasksync.EventInvalidated, tasksync.TasksKey("u1")))
		})
	}
}

func TestSyncerCreateTaskFailureDoesNotInvalidate(t *testing.T) {
	m := &storagemock.MockRepository{}
	m.On("CreateTask", mock.Anything, mock.Anything).Once().Return(nil, errors.New("db is down"))

	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: m})
	require.NoError(t, err)
	factory, err := tasksync.NewFactory(config.StaticFlags{Configured: true}, newFixtureProvider(t, clock.NewFake(testNow)), live)
	require.NoError(t, err)
	syncer, err := tasksync.NewSyncer(tasksync.SyncerConfig{Factory: factory, Identity: &staticIdentity{userID: "u1"}})
	require.NoError(t, err)

	events := &eventRecorder{}
	syncer.OnChange(events.record)

	_, err = syncer.CreateTask(context.Background(), model.TaskInput{Name: "Task A", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	assert.ErrorIs(t, err, tasksync.ErrCreateFailed)
	assert.Equal(t, 0, events.count(tasksync.EventInvalidated, tasksync.TasksKey("u1")))
}

func TestSyncerSubmitCommandLive(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})
	ctx := context.Background()
	task, err := ts.repo.CreateTask(ctx, model.Task{UserID: "u1", Name: "Task A", Status: model.TaskStatusRunning, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(err)
	key := tasksync.TasksKey("u1")

	res, err := ts.syncer.SubmitCommand(ctx, model.CommandInput{TaskID: task.ID, Command: "make test"})
	require.NoError(err)

	// One running step, invalidated once on success.
	tasks, err := ts.repo.ListTasks(ctx, "u1")
	require.NoError(err)
	require.Len(tasks[0].Steps, 1)
	assert.Equal(res.StepID, tasks[0].Steps[0].ID)
	assert.Equal(model.StepStatusRunning, tasks[0].Steps[0].Status)
	assert.Equal(1, ts.events.count(tasksync.EventInvalidated, key))
	assert.False(ts.syncer.Pending().SubmittingCommand)

	ts.clock.Advance(2 * time.Second)

	tasks, err = ts.repo.ListTasks(ctx, "u1")
	require.NoError(err)
	assert.Equal(model.StepStatusCompleted, tasks[0].Steps[0].Status)

	// Exactly one more invalidation after the completion.
	assert.Eventually(func() bool { return ts.events.count(tasksync.EventInvalidated, key) == 2 }, waitFor, tick)
	assert.Never(func() bool { return ts.events.count(tasksync.EventInvalidated, key) > 2 }, 100*time.Millisecond, tick)
}

func TestSyncerSubmitCommandFixtureUpdatesCache(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSyncer(t, testSyncerOpts{flags: config.StaticFlags{Mock: true}})
	ctx := context.Background()

	_, err := ts.syncer.Refresh(ctx)
	require.NoError(err)

	res, err := ts.syncer.SubmitCommand(ctx, model.CommandInput{TaskID: "task-3", Command: "approve"})
	require.NoError(err)

	view := ts.syncer.Tasks()
	require.Len(view.Tasks, 3)
	steps := view.Tasks[2].Steps
	require.Len(steps, 3)
	assert.Equal(res.StepID, steps[2].ID)
	assert.Equal(model.StepStatusCompleted, steps[2].Status)
	assert.Equal(0, ts.counting.listCount())
}

func TestSyncerSubmitCommandInvalid(t *testing.T) {
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})

	_, err := ts.syncer.SubmitCommand(context.Background(), model.CommandInput{Command: "ls"})
	assert.ErrorIs(t, err, model.ErrNotValid)
	assert.Equal(t, 0, ts.events.count(tasksync.EventInvalidated, tasksync.TasksKey("u1")))
}

func TestSyncerQueueCoalescesInvalidations(t *testing.T) {
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})
	key := tasksync.TasksKey("u1")

	ts.syncer.Invalidate(key)
	ts.syncer.Invalidate(key)
	ts.syncer.Invalidate(key)

	runSyncer(t, ts.syncer)

	assert.Eventually(t, func() bool { return ts.counting.listCount() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return ts.counting.listCount() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, 3, ts.events.count(tasksync.EventInvalidated, key))
}

func TestSyncerPolling(t *testing.T) {
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})

	runSyncer(t, ts.syncer)

	// Initial load.
	assert.Eventually(t, func() bool { return ts.counting.listCount() == 1 }, waitFor, tick)

	ts.clock.WaitForTimers(1)
	ts.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return ts.counting.listCount() == 2 }, waitFor, tick)

	ts.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return ts.counting.listCount() == 3 }, waitFor, tick)
}

func TestSyncerPollingSkipsWhileIdentityLoading(t *testing.T) {
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1"})
	ts.identity.set(true, "")

	runSyncer(t, ts.syncer)

	ts.clock.WaitForTimers(1)
	ts.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return ts.counting.listCount() > 0 }, 100*time.Millisecond, tick)

	ts.identity.set(false, "u1")
	ts.syncer.IdentityChanged()
	assert.Eventually(t, func() bool { return ts.counting.listCount() == 1 }, waitFor, tick)
}

// countingSubscriber counts the ready subscriptions.
type countingSubscriber struct {
	broker *realtime.Broker

	mu     sync.Mutex
	active int
}

func (c *countingSubscriber) Subscribe(sub realtime.Subscription, h realtime.Handler) (func(), error) {
	unsub, err := c.broker.Subscribe(sub, h)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.active++
	c.mu.Unlock()

	return func() {
		unsub()
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}, nil
}

func (c *countingSubscriber) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func newCountingSubscriber(t *testing.T) *countingSubscriber {
	t.Helper()

	broker, err := realtime.NewBroker(realtime.BrokerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	return &countingSubscriber{broker: broker}
}

func TestSyncerRealtime(t *testing.T) {
	require := require.New(t)

	sub := newCountingSubscriber(t)
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1", subscriber: sub})
	ctx := context.Background()
	mine, err := ts.repo.CreateTask(ctx, model.Task{UserID: "u1", Name: "Mine", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(err)
	other, err := ts.repo.CreateTask(ctx, model.Task{UserID: "u2", Name: "Other", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(err)

	runSyncer(t, ts.syncer)
	require.Eventually(func() bool { return sub.activeCount() == 2 }, waitFor, tick)

	key := tasksync.TasksKey("u1")
	invalidations := func() int { return ts.events.count(tasksync.EventInvalidated, key) }
	publish := func(table string, rec realtime.Record) {
		sub.broker.Publish(ctx, realtime.ChangeEvent{Table: table, Type: realtime.EventInsert, New: rec})
	}

	// Our task changes invalidate.
	publish(storage.TableTasks, realtime.Record{"id": mine.ID, "user_id": "u1"})
	require.Eventually(func() bool { return invalidations() == 1 }, waitFor, tick)

	// Other user task changes are filtered at the source.
	publish(storage.TableTasks, realtime.Record{"id": other.ID, "user_id": "u2"})
	// A step change on a task of another user must not invalidate.
	publish(storage.TableSteps, realtime.Record{"id": "s1", "task_id": other.ID})
	// A step change without parent task is ignored.
	publish(storage.TableSteps, realtime.Record{"id": "s2"})
	// A step change on our task invalidates, events on the same table are handled in order.
	publish(storage.TableSteps, realtime.Record{"id": "s3", "task_id": mine.ID})

	assert.Eventually(t, func() bool { return invalidations() == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return invalidations() > 2 }, 100*time.Millisecond, tick)
}

func TestSyncerRealtimeSkippedInFixtureMode(t *testing.T) {
	sub := newCountingSubscriber(t)
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1", subscriber: sub, flags: config.StaticFlags{Configured: true, Mock: true}})
	runSyncer(t, ts.syncer)

	// Wait for the initial fixture load, Run has already reconciled the subscriptions.
	require.Eventually(t, func() bool { return ts.events.count(tasksync.EventUpdated, tasksync.TasksKey("u1")) > 0 }, waitFor, tick)
	assert.Equal(t, 0, sub.activeCount())
}

func TestSyncerRealtimeFollowsIdentity(t *testing.T) {
	require := require.New(t)

	sub := newCountingSubscriber(t)
	ts := newTestSyncer(t, testSyncerOpts{userID: "u1", subscriber: sub})
	runSyncer(t, ts.syncer)
	ctx := context.Background()
	require.Eventually(func() bool { return sub.activeCount() == 2 }, waitFor, tick)

	// Switch user, the subscriptions should move to the new user.
	ts.identity.set(false, "u2")
	ts.syncer.IdentityChanged()
	require.Eventually(func() bool { return ts.counting.listCount() == 2 }, waitFor, tick)
	require.Equal(2, sub.activeCount())

	sub.broker.Publish(ctx, realtime.ChangeEvent{Table: storage.TableTasks, Type: realtime.EventInsert, New: realtime.Record{"user_id": "u1"}})
	sub.broker.Publish(ctx, realtime.ChangeEvent{Table: storage.TableTasks, Type: realtime.EventInsert, New: realtime.Record{"user_id": "u2"}})

	assert.Eventually(t, func() bool { return ts.events.count(tasksync.EventInvalidated, tasksync.TasksKey("u2")) == 1 }, waitFor, tick)
	assert.Equal(t, 0, ts.events.count(tasksync.EventInvalidated, tasksync.TasksKey("u1")))

	// Signing out drops the subscriptions.
	ts.identity.set(false, "")
	ts.syncer.IdentityChanged()
	assert.Eventually(t, func() bool { return sub.activeCount() == 0 }, waitFor, tick)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, `["tasks","u1"]`, tasksync.TasksKey("u1").String())
}
