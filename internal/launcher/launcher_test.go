package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/ecs/ecstest"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// --- Test doubles ---

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.Run

	// onGet вызывается до чтения, вне mu
	onGet func(id string)
	// writeErr — ошибка для записи run (nil — запись проходит)
	writeErr func(run *domain.Run) error
}

func newMemRuns(runs ...*domain.Run) *memRuns {
	m := &memRuns{runs: make(map[string]*domain.Run)}
	for _, r := range runs {
		m.runs[r.ID] = cloneRun(r)
	}
	return m
}

func (m *memRuns) GetByID(_ context.Context, id string) (*domain.Run, error) {
	if m.onGet != nil {
		m.onGet(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneRun(r), nil
}

func (m *memRuns) Update(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(run, nil)
}

func (m *memRuns) UpdateIf(_ context.Context, run *domain.Run, pre repo.Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(run, &pre)
}

func (m *memRuns) write(run *domain.Run, pre *repo.Precondition) error {
	if m.writeErr != nil {
		if err := m.writeErr(run); err != nil {
			return err
		}
	}
	current, ok := m.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if pre != nil && !pre.Holds(current) {
		return repo.ErrConflict
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// set меняет run в обход launcher'а.
func (m *memRuns) set(id string, fn func(run *domain.Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.runs[id])
}

func (m *memRuns) get(t *testing.T, id string) *domain.Run {
	t.Helper()
	r, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

// linkWrite — запись run со ссылкой на task.
func linkWrite(run *domain.Run) bool {
	_, ok := run.TaskRef()
	return ok
}

type recordingPublisher struct {
	mu         sync.Mutex
	launched   []string
	terminated []string
}

func (p *recordingPublisher) PublishRunLaunched(_ context.Context, runID string, _ domain.TaskRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launched = append(p.launched, runID)
	return nil
}

func (p *recordingPublisher) PublishRunTerminated(_ context.Context, runID string, _ domain.TaskRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, runID)
	return nil
}

// --- Fixture ---

type fixture struct {
	cluster   *ecstest.Cluster
	runs      *memRuns
	publisher *recordingPublisher
	launcher  *Launcher
	pipeline  *domain.ExternalPipeline
}

func newFixture(t *testing.T, runIDs ...string) *fixture {
	t.Helper()

	cluster := ecstest.New()
	_, err := cluster.RegisterTaskDefinition(context.Background(), domain.TaskDefinition{
		Family:                  "dagster",
		NetworkMode:             "awsvpc",
		RequiresCompatibilities: []string{"FARGATE"},
		CPU:                     "256",
		Memory:                  "512",
		Containers: []domain.ContainerSpec{{
			Name:        "dagster",
			Image:       "dagster:base",
			Command:     []string{"dagster-daemon", "run"},
			Environment: []domain.EnvVar{{Name: "FOO", Value: "bar"}, {Name: "BAR", Value: "baz"}, {Name: "ALPHA", Value: "1"}},
		}},
	})
	require.NoError(t, err)

	var runs []*domain.Run
	for _, id := range runIDs {
		runs = append(runs, &domain.Run{ID: id, PipelineName: "etl", Status: domain.RunStatusPending})
	}
	store := newMemRuns(runs...)
	pub := &recordingPublisher{}

	l := New(Config{
		Client:     cluster,
		Cluster:    "default",
		BaseFamily: "dagster",
		LaunchType: "FARGATE",
		Network:    domain.NetworkConfig{Subnets: []string{"subnet-1"}, SecurityGroups: []string{"sg-1"}},
		Runs:       store,
		Publisher:  pub,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &fixture{
		cluster:   cluster,
		runs:      store,
		publisher: pub,
		launcher:  l,
		pipeline:  &domain.ExternalPipeline{Name: "etl", Image: "registry/etl:1"},
	}
}

func (f *fixture) launch(t *testing.T, runID string) *domain.Task {
	t.Helper()
	task, err := f.launcher.Launch(context.Background(), runID, f.pipeline)
	require.NoError(t, err)
	return task
}

// --- Launch ---

func TestLaunch_DerivesDefinitionFromBase(t *testing.T) {
	f := newFixture(t, "run-1")

	task := f.launch(t, "run-1")

	revs := f.cluster.Revisions("dagster-run")
	require.Len(t, revs, 1)
	def := revs[0]

	assert.Equal(t, "dagster-run", def.Family)
	assert.Equal(t, def.ARN, task.TaskDefinitionARN)
	require.Len(t, def.Containers, 1)

	c := def.Containers[0]
	assert.Equal(t, "run", c.Name)
	assert.Equal(t, "registry/etl:1", c.Image)
	assert.Equal(t, []domain.EnvVar{{Name: "FOO", Value: "bar"}, {Name: "BAR", Value: "baz"}, {Name: "ALPHA", Value: "1"}}, c.Environment)
	assert.Contains(t, c.Command, "execute_run")
	assert.Contains(t, c.Command, "run-1")

	assert.Equal(t, "awsvpc", def.NetworkMode)
	assert.Equal(t, []string{"FARGATE"}, def.RequiresCompatibilities)
	assert.Equal(t, "256", def.CPU)
}

func TestLaunch_TaskOverridesAndNetwork(t *testing.T) {
	f := newFixture(t, "run-1")

	task := f.launch(t, "run-1")

	require.Len(t, task.Overrides, 1)
	assert.Equal(t, "run", task.Overrides[0].Name)
	assert.Equal(t, []string{"automata", "execute_run", "--run-id", "run-1"}, task.Overrides[0].Command)
	assert.Equal(t, []string{"subnet-1"}, task.Network.Subnets)
	assert.Equal(t, []string{"sg-1"}, task.Network.SecurityGroups)
}

func TestLaunch_LinksRunAndTask(t *testing.T) {
	f := newFixture(t, "run-1")

	task := f.launch(t, "run-1")

	run := f.runs.get(t, "run-1")
	assert.Equal(t, task.TaskARN, run.Tags[domain.TagTaskARN])
	assert.Equal(t, task.ClusterARN, run.Tags[domain.TagCluster])
	assert.Equal(t, domain.RunStatusStarting, run.Status)
	assert.NotNil(t, run.StartedAt)

	remote, err := f.cluster.ListTagsForResource(context.Background(), task.TaskARN)
	require.NoError(t, err)
	assert.Equal(t, "run-1", remote[domain.TagRunID])

	runID, ok, err := f.launcher.Tags().RunIDForTask(context.Background(), task.TaskARN)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	ref, ok, err := f.launcher.Tags().ResolveTask(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, task.Ref(), ref)

	assert.Equal(t, []string{"run-1"}, f.publisher.launched)
}

func TestLaunch_ExactlyOneDefinitionAndTask(t *testing.T) {
	f := newFixture(t, "run-1", "run-2")

	defsBefore := len(f.cluster.Revisions("dagster-run"))
	tasksBefore := len(f.cluster.Tasks())

	f.launch(t, "run-1")

	assert.Equal(t, defsBefore+1, len(f.cluster.Revisions("dagster-run")))
	assert.Equal(t, tasksBefore+1, len(f.cluster.Tasks()))

	f.launch(t, "run-2")

	revs := f.cluster.Revisions("dagster-run")
	require.Len(t, revs, 2, "every launch registers a fresh revision")
	assert.NotEqual(t, revs[0].ARN, revs[1].ARN)
}

func TestLaunch_TwiceFailsAlreadyLinked(t *testing.T) {
	f := newFixture(t, "run-1")

	f.launch(t, "run-1")

	_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpRunTask))
	assert.Len(t, f.cluster.Revisions("dagster-run"), 1)
}

func TestLaunch_ConcurrentSameRun(t *testing.T) {
	f := newFixture(t, "run-1")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		linked    int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyLinked):
				linked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, linked)
	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpRunTask))
	assert.Equal(t, 0, f.launcher.locks.size())
}

func TestLaunch_Errors(t *testing.T) {
	t.Run("run not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.launcher.Launch(context.Background(), "missing", f.pipeline)
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("nil pipeline", func(t *testing.T) {
		f := newFixture(t, "run-1")
		_, err := f.launcher.Launch(context.Background(), "run-1", nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("empty image", func(t *testing.T) {
		f := newFixture(t, "run-1")
		_, err := f.launcher.Launch(context.Background(), "run-1", &domain.ExternalPipeline{Name: "etl"})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 1, f.cluster.Calls(ecstest.OpRegisterTaskDefinition), "only the base definition is registered")
	})

	t.Run("unknown base family", func(t *testing.T) {
		f := newFixture(t, "run-1")
		l := New(Config{
			Client:     f.cluster,
			BaseFamily: "missing",
			Runs:       f.runs,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		})

		_, err := l.Launch(context.Background(), "run-1", f.pipeline)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, ErrLaunch)
		assert.Equal(t, 0, f.cluster.Calls(ecstest.OpRunTask))
	})
}

func TestLaunch_OrchestratorRejects(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{name: "register task definition", op: ecstest.OpRegisterTaskDefinition},
		{name: "run task", op: ecstest.OpRunTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "run-1")
			rejected := errors.New("rejected")
			f.cluster.FailOn(tt.op, rejected)

			_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLaunch)
			assert.ErrorIs(t, err, rejected)

			var le *LaunchError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, "run-1", le.RunID)

			run := f.runs.get(t, "run-1")
			_, linked := run.TaskRef()
			assert.False(t, linked, "run must stay unlaunched")
			assert.Equal(t, domain.RunStatusPending, run.Status)

			state, _, err := f.launcher.State(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Equal(t, domain.LaunchStateUnlaunched, state)

			// после устранения причины run можно запустить
			f.cluster.FailOn(tt.op, nil)
			f.launch(t, "run-1")
		})
	}
}

func TestLaunch_CustomEntrypoint(t *testing.T) {
	f := newFixture(t, "run-1")
	l := New(Config{
		Client:     f.cluster,
		BaseFamily: "dagster",
		Entrypoint: []string{"python", "-m", "automata"},
		Runs:       f.runs,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	task, err := l.Launch(context.Background(), "run-1", f.pipeline)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "-m", "automata", "execute_run", "--run-id", "run-1"}, task.Overrides[0].Command)
}

// --- Lifecycle ---

func TestLifecycle_Unlaunched(t *testing.T) {
	f := newFixture(t, "run-1")
	ctx := context.Background()

	can, err := f.launcher.CanTerminate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, can)

	ok, err := f.launcher.Terminate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpStopTask))
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpDescribeTask))
	assert.Equal(t, domain.RunStatusPending, f.runs.get(t, "run-1").Status)
}

func TestLifecycle_TerminateTwice(t *testing.T) {
	f := newFixture(t, "run-1")
	ctx := context.Background()
	f.launch(t, "run-1")

	can, err := f.launcher.CanTerminate(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, can)

	ok, err := f.launcher.Terminate(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, ok)

	state, _, err := f.launcher.State(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchStateTerminated, state)

	can, err = f.launcher.CanTerminate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, can)

	ok, err = f.launcher.Terminate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpStopTask))
	assert.Equal(t, domain.RunStatusCancelled, f.runs.get(t, "run-1").Status)
	assert.Equal(t, []string{"run-1"}, f.publisher.terminated)
}

func TestLifecycle_PendingTaskIsTerminable(t *testing.T) {
	statuses := []domain.TaskStatus{
		domain.TaskStatusProvisioning,
		domain.TaskStatusPending,
		domain.TaskStatusActivating,
		domain.TaskStatusRunning,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, "run-1")
			task := f.launch(t, "run-1")
			f.cluster.SetTaskStatus(task.TaskARN, status)

			can, err := f.launcher.CanTerminate(context.Background(), "run-1")
			require.NoError(t, err)
			assert.True(t, can)
		})
	}
}

func TestLifecycle_TaskStoppedOutside(t *testing.T) {
	f := newFixture(t, "run-1")
	ctx := context.Background()
	task := f.launch(t, "run-1")

	f.cluster.StopExternally(task.TaskARN, 0, "Essential container in task exited")

	state, described, err := f.launcher.State(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchStateTerminated, state)
	require.NotNil(t, described)
	assert.True(t, described.IsStopped())

	ok, err := f.launcher.Terminate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpStopTask))
}

func TestLifecycle_TaskForgotten(t *testing.T) {
	f := newFixture(t, "run-1")
	task := f.launch(t, "run-1")

	f.cluster.Forget(task.TaskARN)

	state, described, err := f.launcher.State(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchStateTerminated, state)
	assert.Nil(t, described)
}

func TestLifecycle_StopRace(t *testing.T) {
	gone := []error{
		fmt.Errorf("stop task: %w", ecs.ErrTaskStopped),
		fmt.Errorf("stop task: %w", ecs.ErrTaskNotFound),
	}

	for _, stopErr := range gone {
		t.Run(stopErr.Error(), func(t *testing.T) {
			f := newFixture(t, "run-1")
			f.launch(t, "run-1")
			f.cluster.FailOn(ecstest.OpStopTask, stopErr)

			ok, err := f.launcher.Terminate(context.Background(), "run-1")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, domain.RunStatusCancelled, f.runs.get(t, "run-1").Status)
			assert.Empty(t, f.publisher.terminated)
		})
	}
}

func TestLifecycle_StopRejected(t *testing.T) {
	f := newFixture(t, "run-1")
	f.launch(t, "run-1")
	denied := errors.New("access denied")
	f.cluster.FailOn(ecstest.OpStopTask, denied)

	ok, err := f.launcher.Terminate(context.Background(), "run-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrOrchestrator)
	assert.ErrorIs(t, err, denied)

	var oe *OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "run-1", oe.RunID)
	assert.NotEmpty(t, oe.TaskARN)

	// run остаётся активным, повторная попытка возможна
	assert.Equal(t, domain.RunStatusStarting, f.runs.get(t, "run-1").Status)
	f.cluster.FailOn(ecstest.OpStopTask, nil)
	ok, err = f.launcher.Terminate(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLifecycle_DescribeFails(t *testing.T) {
	f := newFixture(t, "run-1")
	f.launch(t, "run-1")
	f.cluster.FailOn(ecstest.OpDescribeTask, errors.New("throttled"))

	_, err := f.launcher.CanTerminate(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrOrchestrator)
}

func TestLifecycle_RunNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.launcher.Terminate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, _, err = f.launcher.Tags().ResolveTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// --- TagStore ---

func TestTagStore_RelinkOverwrites(t *testing.T) {
	f := newFixture(t, "run-1")
	ctx := context.Background()
	store := f.launcher.Tags()

	run := f.runs.get(t, "run-1")
	first := &domain.Task{TaskARN: "arn:task/1", ClusterARN: "arn:cluster/a"}
	second := &domain.Task{TaskARN: "arn:task/2", ClusterARN: "arn:cluster/b"}

	// tasks нет в фейке, поэтому передаём уже помеченные
	first.Tags = map[string]string{domain.TagRunID: "run-1"}
	second.Tags = map[string]string{domain.TagRunID: "run-1"}

	require.NoError(t, store.LinkRunToTask(ctx, run, first))
	require.NoError(t, store.LinkRunToTask(ctx, run, second))

	ref, ok, err := store.ResolveTask(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskRef{TaskARN: "arn:task/2", ClusterARN: "arn:cluster/b"}, ref)
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpTagResource))
}

func TestTagStore_TagsUntaggedTask(t *testing.T) {
	f := newFixture(t, "run-1")
	ctx := context.Background()

	task, err := f.cluster.RunTask(ctx, ecs.RunTaskInput{TaskDefinitionARN: "dagster"})
	require.NoError(t, err)

	run := f.runs.get(t, "run-1")
	require.NoError(t, f.launcher.Tags().LinkRunToTask(ctx, run, task))

	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpTagResource))
	runID, ok, err := f.launcher.Tags().RunIDForTask(ctx, task.TaskARN)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)
}

func TestTagStore_RunIDForUnknownTask(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.launcher.Tags().RunIDForTask(context.Background(), "arn:task/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLaunch_LinkFailureReportsLaunchError(t *testing.T) {
	f := newFixture(t, "run-1")
	f.runs.writeErr = func(run *domain.Run) error {
		if linkWrite(run) {
			return errors.New("db down")
		}
		return nil
	}

	_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
	assert.ErrorIs(t, err, ErrLaunch)

	// task создан и найден по тегу со стороны ECS
	tasks := f.cluster.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "run-1", tasks[0].Tags[domain.TagRunID])
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpStopTask))
}

func TestLaunch_ClaimFailureCreatesNoTask(t *testing.T) {
	f := newFixture(t, "run-1")
	down := errors.New("db down")
	f.runs.writeErr = func(*domain.Run) error { return down }

	_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpRunTask))
	assert.Len(t, f.cluster.Revisions("dagster-run"), 0)
}

func TestLaunch_LinkConflictStopsTask(t *testing.T) {
	f := newFixture(t, "run-1")
	f.runs.writeErr = func(run *domain.Run) error {
		if linkWrite(run) {
			return repo.ErrConflict
		}
		return nil
	}

	_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, repo.ErrConflict)

	tasks := f.cluster.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpStopTask))
	assert.True(t, tasks[0].IsStopped())
}

func TestLaunch_RunBeingLaunched(t *testing.T) {
	f := newFixture(t, "run-1")
	f.runs.set("run-1", func(run *domain.Run) { run.MarkStarting() })

	_, err := f.launcher.Launch(context.Background(), "run-1", f.pipeline)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	assert.Equal(t, 0, f.cluster.Calls(ecstest.OpRunTask))
}

func TestLaunch_ReplicasCreateOneTask(t *testing.T) {
	f := newFixture(t, "run-1")

	// обе реплики читают run до того, как любая из них пишет
	var (
		arrived sync.WaitGroup
		calls   atomic.Int32
	)
	arrived.Add(2)
	f.runs.onGet = func(string) {
		if calls.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	replica := New(Config{
		Client:     f.cluster,
		BaseFamily: "dagster",
		Runs:       f.runs,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, l := range []*Launcher{f.launcher, replica} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Launch(context.Background(), "run-1", f.pipeline)
		}()
	}
	wg.Wait()

	var succeeded, linked int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyLinked):
			linked++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, linked)
	assert.Equal(t, 1, f.cluster.Calls(ecstest.OpRunTask))

	tasks := f.cluster.Tasks()
	require.Len(t, tasks, 1)
	ref, ok := f.runs.get(t, "run-1").TaskRef()
	require.True(t, ok)
	assert.Equal(t, tasks[0].TaskARN, ref.TaskARN)
}

// finishingClient завершает run в хранилище, пока идёт StopTask.
type finishingClient struct {
	*ecstest.Cluster
	runs *memRuns
}

func (c *finishingClient) StopTask(ctx context.Context, cluster, taskARN, reason string) error {
	c.runs.set("run-1", func(run *domain.Run) { run.MarkSucceeded() })
	return c.Cluster.StopTask(ctx, cluster, taskARN, reason)
}

func TestLifecycle_TerminateKeepsFinalStatus(t *testing.T) {
	f := newFixture(t, "run-1")
	f.launch(t, "run-1")

	l := New(Config{
		Client: &finishingClient{Cluster: f.cluster, runs: f.runs},
		Runs:   f.runs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ok, err := l.Terminate(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RunStatusSucceeded, f.runs.get(t, "run-1").Status)
}
