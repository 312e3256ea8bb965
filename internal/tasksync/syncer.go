package tasksync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/storage"
)

const defaultPollInterval = 10 * time.Second

// IdentitySource knows who the current user is.
type IdentitySource interface {
	// Loading returns true while the authentication state is undetermined.
	Loading() bool
	Identity() model.Identity
}

// OwnershipChecker knows if a task belongs to a user.
type OwnershipChecker interface {
	TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error)
}

// SyncerConfig is the configuration for the syncer.
type SyncerConfig struct {
	Factory  *Factory
	Identity IdentitySource
	// Subscriber is optional, without it the cache is only refreshed by polling
	// and mutations.
	Subscriber realtime.Subscriber
	// Ownership is required when Subscriber is set.
	Ownership    OwnershipChecker
	Clock        clock.Clock
	PollInterval time.Duration
	Logger       log.Logger
}

func (c *SyncerConfig) defaults() error {
	if c.Factory == nil {
		return fmt.Errorf("factory is required")
	}
	if c.Identity == nil {
		return fmt.Errorf("identity source is required")
	}
	if c.Subscriber != nil && c.Ownership == nil {
		return fmt.Errorf("ownership checker is required with a realtime subscriber")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval can't be negative")
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tasksync.Syncer"})
	return nil
}

// EventKind is the kind of cache change.
type EventKind string

const (
	// EventInvalidated is emitted when a key is marked for refetch.
	EventInvalidated EventKind = "invalidated"
	// EventUpdated is emitted after a key has been written.
	EventUpdated EventKind = "updated"
)

// Event is a cache change notification.
type Event struct {
	Kind EventKind
	Key  Key
	View View
}

// View is the cached state of a task list.
type View struct {
	// Tasks is nil when the last fetch failed or nothing has been fetched yet.
	Tasks     []model.Task
	Err       error
	Loading   bool
	UpdatedAt time.Time
}

// MutationState exposes the in progress mutations. Callers should not submit a
// command while another one is pending, this is not enforced.
type MutationState struct {
	CreatingTask      bool
	SubmittingCommand bool
}

type cacheEntry struct {
	tasks     []model.Task
	err       error
	updatedAt time.Time
}

// Syncer is the task cache with its refresh triggers and mutations.
type Syncer struct {
	factory      *Factory
	identity     IdentitySource
	subscriber   realtime.Subscriber
	ownership    OwnershipChecker
	clock        clock.Clock
	pollInterval time.Duration
	logger       log.Logger
	group        singleflight.Group

	mu         sync.Mutex
	cache      map[Key]*cacheEntry
	inflight   map[Key]int
	queue      []Key
	queued     map[Key]bool
	listeners  map[int]func(Event)
	nextID     int
	creating   int
	submitting int

	wake            chan struct{}
	identityChanged chan struct{}

	// Only used from the Run goroutine.
	subscribedUser string
	unsubscribes   []func()
}

// NewSyncer returns a new syncer.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Syncer{
		factory:         cfg.Factory,
		identity:        cfg.Identity,
		subscriber:      cfg.Subscriber,
		ownership:       cfg.Ownership,
		clock:           cfg.Clock,
		pollInterval:    cfg.PollInterval,
		logger:          cfg.Logger,
		cache:           map[Key]*cacheEntry{},
		inflight:        map[Key]int{},
		queued:          map[Key]bool{},
		listeners:       map[int]func(Event){},
		wake:            make(chan struct{}, 1),
		identityChanged: make(chan struct{}, 1),
	}, nil
}

// CurrentKey returns the cache key of the current user.
func (s *Syncer) CurrentKey() Key { return TasksKey(s.identity.Identity().UserID()) }

// Tasks returns the cached view of the current user tasks.
func (s *Syncer) Tasks() View { return s.View(s.CurrentKey()) }

// View returns the cached view of a key.
func (s *Syncer) View(key Key) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(key)
}

func (s *Syncer) view(key Key) View {
	v := View{Loading: s.identity.Loading() || s.inflight[key] > 0}
	if e, ok := s.cache[key]; ok {
		v.Tasks = copyTasks(e.tasks)
		v.Err = e.err
		v.UpdatedAt = e.updatedAt
	}
	return v
}

// Pending returns the mutations in progress.
func (s *Syncer) Pending() MutationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MutationState{CreatingTask: s.creating > 0, SubmittingCommand: s.submitting > 0}
}

// OnChange registers a listener for cache events. Listeners are called
// synchronously so they should not block.
func (s *Syncer) OnChange(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Refresh fetches the current user tasks right away, bypassing the queue.
func (s *Syncer) Refresh(ctx context.Context) (View, error) {
	key := s.CurrentKey()
	err := s.fetch(ctx, key)
	return s.View(key), err
}

// Invalidate marks the key as stale and queues a refetch. Keys already queued
// are coalesced.
func (s *Syncer) Invalidate(key Key) {
	s.emit(Event{Kind: EventInvalidated, Key: key, View: s.View(key)})
	s.enqueue(key)
}

// IdentityChanged tells the syncer the current identity could have changed,
// subscriptions are reconciled and the new user tasks are loaded.
func (s *Syncer) IdentityChanged() {
	select {
	case s.identityChanged <- struct{}{}:
	default:
	}
}

// Run processes the refetch queue and runs the poll and realtime triggers
// until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()
	defer s.unsubscribeAll()

	s.syncSubscriptions()
	if !s.identity.Loading() {
		s.enqueue(s.CurrentKey())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncSubscriptions()
			if !s.identity.Loading() {
				s.enqueue(s.CurrentKey())
			}
		case <-s.identityChanged:
			s.syncSubscriptions()
			if !s.identity.Loading() {
				s.enqueue(s.CurrentKey())
			}
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// CreateTask validates and creates a task for the current user.
func (s *Syncer) CreateTask(ctx context.Context, in model.TaskInput) (*model.Task, error) {
	if err := validateTaskInput(in); err != nil {
		return nil, err
	}

	s.trackPending(&s.creating, 1)
	defer s.trackPending(&s.creating, -1)

	key := s.CurrentKey()
	task, err := s.factory.Select(key.UserID).CreateTask(ctx, key.UserID, in)
	if err != nil {
		return nil, err
	}

	s.Invalidate(key)
	return task, nil
}

// SubmitCommand submits a command on a task of the current user. The cache is
// invalidated on success and once more after a deferred completion.
func (s *Syncer) SubmitCommand(ctx context.Context, in model.CommandInput) (*model.CommandResult, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	s.trackPending(&s.submitting, 1)
	defer s.trackPending(&s.submitting, -1)

	key := s.CurrentKey()
	res, err := s.factory.Select(key.UserID).SubmitCommand(ctx, key.UserID, in)
	if err != nil {
		return nil, err
	}

	if res.Step != nil {
		s.appendStep(key, *res.Step)
	}
	s.Invalidate(key)

	if res.Completed != nil {
		go func() {
			<-res.Completed
			s.Invalidate(key)
		}()
	}

	return res, nil
}

func (s *Syncer) trackPending(counter *int, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter += delta
}

// appendStep writes the step on the cached task list if the task is there.
func (s *Syncer) appendStep(key Key, step model.Step) {
	s.mu.Lock()
	e, ok := s.cache[key]
	if !ok || e.tasks == nil {
		s.mu.Unlock()
		return
	}

	tasks := copyTasks(e.tasks)
	for i := range tasks {
		if tasks[i].ID == step.TaskID {
			tasks[i].Steps = append(tasks[i].Steps, step)
		}
	}
	e.tasks = tasks
	e.updatedAt = s.clock.Now()
	v := s.view(key)
	s.mu.Unlock()

	s.emit(Event{Kind: EventUpdated, Key: key, View: v})
}

func (s *Syncer) enqueue(key Key) {
	s.mu.Lock()
	if !s.queued[key] {
		s.queued[key] = true
		s.queue = append(s.queue, key)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) drain(ctx context.Context) {
	s.mu.Lock()
	keys := s.queue
	s.queue = nil
	s.queued = map[Key]bool{}
	s.mu.Unlock()

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		// Errors are already logged by the providers and kept in the cache.
		_ = s.fetch(ctx, key)
	}
}

// fetch loads the key and writes the cache. Concurrent fetches of the same key
// share the same backend call.
func (s *Syncer) fetch(ctx context.Context, key Key) error {
	_, err, _ := s.group.Do(key.String(), func() (any, error) {
		s.mu.Lock()
		s.inflight[key]++
		s.mu.Unlock()

		tasks, err := s.factory.Select(key.UserID).FetchTasks(ctx, key.UserID)

		s.mu.Lock()
		s.inflight[key]--
		if s.inflight[key] == 0 {
			delete(s.inflight, key)
		}
		e := &cacheEntry{updatedAt: s.clock.Now(), err: err}
		if err == nil {
			e.tasks = tasks
		}
		s.cache[key] = e
		v := s.view(key)
		s.mu.Unlock()

		s.emit(Event{Kind: EventUpdated, Key: key, View: v})
		return nil, err
	})

	return err
}

func (s *Syncer) emit(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// syncSubscriptions keeps the realtime subscriptions in line with the current
// identity and data mode.
func (s *Syncer) syncSubscriptions() {
	want := ""
	if s.subscriber != nil && !s.identity.Loading() {
		id := s.identity.Identity()
		if id.Authenticated() && s.factory.Live(id.UserID()) {
			want = id.UserID()
		}
	}

	if want == s.subscribedUser {
		return
	}
	s.unsubscribeAll()
	if want == "" {
		return
	}

	logger := s.logger.WithValues(log.Kv{"user-id": want})
	key := TasksKey(want)

	unsubTasks, err := s.subscriber.Subscribe(realtime.Subscription{
		Table:  storage.TableTasks,
		Filter: realtime.EqFilter("user_id", want),
	}, func(ctx context.Context, ev realtime.ChangeEvent) {
		logger.Debugf("Task change received: %s", ev.Type)
		s.Invalidate(key)
	})
	if err != nil {
		logger.Errorf("Could not subscribe to task changes: %s", err)
		return
	}
	s.unsubscribes = append(s.unsubscribes, unsubTasks)

	unsubSteps, err := s.subscriber.Subscribe(realtime.Subscription{
		Table: storage.TableSteps,
	}, func(ctx context.Context, ev realtime.ChangeEvent) {
		s.handleStepChange(ctx, want, ev)
	})
	if err != nil {
		logger.Errorf("Could not subscribe to step changes: %s", err)
		s.unsubscribeAll()
		return
	}
	s.unsubscribes = append(s.unsubscribes, unsubSteps)

	s.subscribedUser = want
	logger.Debugf("Realtime subscriptions ready")
}

// handleStepChange invalidates the user tasks only if the changed step is on a
// task owned by the user, step changes are not filtered at the source.
func (s *Syncer) handleStepChange(ctx context.Context, userID string, ev realtime.ChangeEvent) {
	taskID := ev.New.String("task_id")
	if taskID == "" {
		taskID = ev.Old.String("task_id")
	}
	if taskID == "" {
		return
	}

	owned, err := s.ownership.TaskBelongsTo(ctx, taskID, userID)
	if err != nil {
		s.logger.WithValues(log.Kv{"user-id": userID, "task-id": taskID}).Errorf("Could not check task ownership: %s", err)
		return
	}
	if !owned {
		return
	}

	s.Invalidate(TasksKey(userID))
}

func (s *Syncer) unsubscribeAll() {
	for _, unsub := range s.unsubscribes {
		unsub()
	}
	s.unsubscribes = nil
	s.subscribedUser = ""
}
