package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	CreatedAt string `json:"created_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string            `json:"id"`
	Pipeline   string            `json:"pipeline"`
	Status     string            `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
	TaskARN    string            `json:"task_arn,omitempty"`
	ClusterARN string            `json:"cluster_arn,omitempty"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// TaskResponse — ECS task из API.
type TaskResponse struct {
	TaskARN           string `json:"task_arn"`
	ClusterARN        string `json:"cluster_arn"`
	TaskDefinitionARN string `json:"task_definition_arn,omitempty"`
	LastStatus        string `json:"last_status,omitempty"`
	DesiredStatus     string `json:"desired_status,omitempty"`
	StoppedReason     string `json:"stopped_reason,omitempty"`
}

// LaunchResponse — результат запуска.
type LaunchResponse struct {
	RunID  string        `json:"run_id"`
	Queued bool          `json:"queued"`
	Task   *TaskResponse `json:"task,omitempty"`
}

// TerminationResponse — состояние запуска run.
type TerminationResponse struct {
	RunID        string        `json:"run_id"`
	State        string        `json:"state"`
	CanTerminate bool          `json:"can_terminate"`
	Task         *TaskResponse `json:"task,omitempty"`
}

// TerminateResponse — результат остановки.
type TerminateResponse struct {
	RunID      string `json:"run_id"`
	Terminated bool   `json:"terminated"`
	Queued     bool   `json:"queued,omitempty"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Pipeline string            `json:"pipeline"`
	Tags     map[string]string `json:"tags,omitempty"`
	Launch   bool              `json:"launch,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Pipeline string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для API run launcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// RegisterPipeline регистрирует pipeline или, если он уже есть, меняет его образ.
func (c *Client) RegisterPipeline(name, image string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines", map[string]string{"name": name, "image": image}, &p)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		err = c.put("/api/v1/pipelines/"+url.PathEscape(name), map[string]string{"image": image}, &p)
	}
	return &p, err
}

// GetPipeline возвращает pipeline по имени.
func (c *Client) GetPipeline(name string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(name), &p)
	return &p, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run.
func (c *Client) CreateRun(req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// LaunchRun запускает run. async=true — через очередь.
func (c *Client) LaunchRun(id string, async bool) (*LaunchResponse, error) {
	var resp LaunchResponse
	err := c.post(runAction(id, "launch", async), nil, &resp)
	return &resp, err
}

// Termination возвращает состояние запуска run.
func (c *Client) Termination(id string) (*TerminationResponse, error) {
	var resp TerminationResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id)+"/termination", &resp)
	return &resp, err
}

// TerminateRun останавливает run. async=true — через очередь.
func (c *Client) TerminateRun(id string, async bool) (*TerminateResponse, error) {
	var resp TerminateResponse
	err := c.post(runAction(id, "terminate", async), nil, &resp)
	return &resp, err
}

func runAction(id, action string, async bool) string {
	path := "/api/v1/runs/" + url.PathEscape(id) + "/" + action
	if async {
		path += "?async=true"
	}
	return path
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
