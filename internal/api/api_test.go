package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs/ecstest"
	"github.com/shaiso/automata-ecs/internal/launcher"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// --- in-memory stores ---

type memStore struct {
	mu        sync.Mutex
	runs      map[string]domain.Run
	pipelines map[string]domain.ExternalPipeline

	// afterRead срабатывает один раз после следующего GetByID
	afterRead func()
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]domain.Run{}, pipelines: map[string]domain.ExternalPipeline{}}
}

func (s *memStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	hook := s.afterRead
	s.afterRead = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, repo.ErrNotFound
	}
	run.Tags = maps.Clone(run.Tags)
	return &run, nil
}

func (s *memStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		if filter.Pipeline != "" && run.PipelineName != filter.Pipeline {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Update(_ context.Context, run *domain.Run) error {
	return s.UpdateIf(context.Background(), run, repo.Precondition{})
}

func (s *memStore) UpdateIf(_ context.Context, run *domain.Run, pre repo.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if !pre.Holds(&current) {
		return repo.ErrConflict
	}
	stored := *run
	stored.Tags = maps.Clone(run.Tags)
	s.runs[run.ID] = stored
	return nil
}

type pipelineStore struct{ *memStore }

func (s pipelineStore) Create(_ context.Context, p *domain.ExternalPipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.Name]; ok {
		return repo.ErrAlreadyExists
	}
	s.pipelines[p.Name] = *p
	return nil
}

func (s pipelineStore) GetByName(_ context.Context, name string) (*domain.ExternalPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (s pipelineStore) List(context.Context) ([]domain.ExternalPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExternalPipeline
	for _, p := range s.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s pipelineStore) UpdateImage(_ context.Context, name, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[name]
	if !ok {
		return repo.ErrNotFound
	}
	p.Image = image
	s.pipelines[name] = p
	return nil
}

type recordingQueue struct {
	mu         sync.Mutex
	launches   []string
	terminates []string
	err        error
}

func (q *recordingQueue) PublishRunLaunch(_ context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.launches = append(q.launches, runID)
	return q.err
}

func (q *recordingQueue) PublishRunTerminate(_ context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.terminates = append(q.terminates, runID)
	return q.err
}

// --- fixture ---

type fixture struct {
	server   *httptest.Server
	store    *memStore
	cluster  *ecstest.Cluster
	queue    *recordingQueue
	launcher *launcher.Launcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cluster := ecstest.New()
	_, err := cluster.RegisterTaskDefinition(context.Background(), domain.TaskDefinition{
		Family:     "automata",
		Containers: []domain.ContainerSpec{{Name: "automata", Image: "automata:base"}},
	})
	require.NoError(t, err)

	store := newMemStore()
	store.pipelines["etl"] = domain.ExternalPipeline{Name: "etl", Image: "repo/etl:1"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := launcher.New(launcher.Config{
		Client: cluster,
		Runs:   store,
		Logger: logger,
	})

	queue := &recordingQueue{}
	h := NewHandler(Config{
		Runs:      store,
		Pipelines: pipelineStore{store},
		Launcher:  l,
		Queue:     queue,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{server: server, store: store, cluster: cluster, queue: queue, launcher: l}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (f *fixture) putRun(run domain.Run) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.runs[run.ID] = run
}

// --- pipelines ---

func TestPipelines(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{Name: "ml", Image: "repo/ml:1"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ml", data(t, body)["name"])

	status, body = f.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{Name: "ml", Image: "repo/ml:2"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(ErrCodeConflict), errorCode(body))

	status, _ = f.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/pipelines", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])

	status, body = f.do(t, http.MethodPut, "/api/v1/pipelines/ml", UpdatePipelineRequest{Image: "repo/ml:3"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "repo/ml:3", data(t, body)["image"])

	status, _ = f.do(t, http.MethodGet, "/api/v1/pipelines/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPut, "/api/v1/pipelines/missing", UpdatePipelineRequest{Image: "x"})
	assert.Equal(t, http.StatusNotFound, status)
}

// --- runs ---

func TestCreateRun(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Pipeline: "etl", Tags: map[string]string{"team": "data"}})
	require.Equal(t, http.StatusCreated, status)
	run := data(t, body)
	assert.Equal(t, string(domain.RunStatusPending), run["status"])
	assert.NotEmpty(t, run["id"])
	assert.Empty(t, f.queue.launches)

	status, body = f.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Pipeline: "etl", Launch: true})
	require.Equal(t, http.StatusCreated, status)
	queued := data(t, body)
	assert.Equal(t, string(domain.RunStatusQueued), queued["status"])
	assert.Equal(t, []string{queued["id"].(string)}, f.queue.launches)

	status, _ = f.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Pipeline: "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		Pipeline: "etl",
		Tags:     map[string]string{domain.TagTaskARN: "arn:forged"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateRun_QueueFailureKeepsRunQueued(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")

	status, body := f.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Pipeline: "etl", Launch: true})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(domain.RunStatusQueued), data(t, body)["status"])
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	f.putRun(domain.Run{ID: "a", PipelineName: "etl", Status: domain.RunStatusPending})
	f.putRun(domain.Run{ID: "b", PipelineName: "etl", Status: domain.RunStatusRunning})
	f.putRun(domain.Run{ID: "c", PipelineName: "ml", Status: domain.RunStatusRunning})

	status, body := f.do(t, http.MethodGet, "/api/v1/runs?pipeline=etl&status=RUNNING", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, _ = f.do(t, http.MethodGet, "/api/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLaunchAndTerminate(t *testing.T) {
	f := newFixture(t)
	f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusPending})

	status, body := f.do(t, http.MethodGet, "/api/v1/runs/r1/termination", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(domain.LaunchStateUnlaunched), data(t, body)["state"])
	assert.Equal(t, false, data(t, body)["can_terminate"])

	status, body = f.do(t, http.MethodPost, "/api/v1/runs/r1/launch", nil)
	require.Equal(t, http.StatusOK, status)
	task, ok := data(t, body)["task"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, task["task_arn"])

	status, body = f.do(t, http.MethodPost, "/api/v1/runs/r1/launch", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(ErrCodeAlreadyLinked), errorCode(body))

	status, body = f.do(t, http.MethodGet, "/api/v1/runs/r1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, task["task_arn"], data(t, body)["task_arn"])

	status, body = f.do(t, http.MethodGet, "/api/v1/runs/r1/termination", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(domain.LaunchStateActive), data(t, body)["state"])
	assert.Equal(t, true, data(t, body)["can_terminate"])

	status, body = f.do(t, http.MethodPost, "/api/v1/runs/r1/terminate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, data(t, body)["terminated"])

	status, body = f.do(t, http.MethodPost, "/api/v1/runs/r1/terminate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, data(t, body)["terminated"])
}

func TestLaunchRun_Errors(t *testing.T) {
	t.Run("orchestrator rejects", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusPending})
		f.cluster.FailOn(ecstest.OpRunTask, errors.New("no capacity"))

		status, body := f.do(t, http.MethodPost, "/api/v1/runs/r1/launch", nil)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, string(ErrCodeLaunchFailed), errorCode(body))
	})

	t.Run("finished run", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusCancelled})

		status, _ := f.do(t, http.MethodPost, "/api/v1/runs/r1/launch", nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("unknown run", func(t *testing.T) {
		f := newFixture(t)
		status, _ := f.do(t, http.MethodPost, "/api/v1/runs/nope/launch", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("async", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusPending})

		status, body := f.do(t, http.MethodPost, "/api/v1/runs/r1/launch?async=true", nil)
		require.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, true, data(t, body)["queued"])
		assert.Equal(t, []string{"r1"}, f.queue.launches)

		run, _ := f.store.GetByID(context.Background(), "r1")
		assert.Equal(t, domain.RunStatusQueued, run.Status)
		assert.Zero(t, f.cluster.Calls(ecstest.OpRunTask))
	})

	t.Run("async after concurrent launch", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusPending})

		// другая реплика запускает run между чтением и записью handler'а
		f.store.afterRead = func() {
			_, err := f.launcher.Launch(context.Background(), "r1", &domain.ExternalPipeline{Name: "etl", Image: "repo/etl:1"})
			assert.NoError(t, err)
		}

		status, _ := f.do(t, http.MethodPost, "/api/v1/runs/r1/launch?async=true", nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.Empty(t, f.queue.launches)

		run, _ := f.store.GetByID(context.Background(), "r1")
		assert.Equal(t, domain.RunStatusStarting, run.Status)
		_, linked := run.TaskRef()
		assert.True(t, linked, "link must survive")
		assert.Equal(t, 1, f.cluster.Calls(ecstest.OpRunTask))
	})
}

func TestTerminateRun_Errors(t *testing.T) {
	t.Run("stop rejected", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusPending})
		status, _ := f.do(t, http.MethodPost, "/api/v1/runs/r1/launch", nil)
		require.Equal(t, http.StatusOK, status)

		f.cluster.FailOn(ecstest.OpStopTask, errors.New("access denied"))
		status, body := f.do(t, http.MethodPost, "/api/v1/runs/r1/terminate", nil)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, string(ErrCodeOrchestrator), errorCode(body))
	})

	t.Run("unknown run", func(t *testing.T) {
		f := newFixture(t)
		status, _ := f.do(t, http.MethodPost, "/api/v1/runs/nope/terminate", nil)
		assert.Equal(t, http.StatusNotFound, status)

		status, _ = f.do(t, http.MethodGet, "/api/v1/runs/nope/termination", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("async", func(t *testing.T) {
		f := newFixture(t)
		f.putRun(domain.Run{ID: "r1", PipelineName: "etl", Status: domain.RunStatusRunning})

		status, body := f.do(t, http.MethodPost, "/api/v1/runs/r1/terminate?async=true", nil)
		require.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, true, data(t, body)["queued"])
		assert.Equal(t, []string{"r1"}, f.queue.terminates)
	})
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ErrCodeInternalError))
}
