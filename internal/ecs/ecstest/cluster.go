// Package ecstest — in-memory реализация ecs.Client для тестов.
//
// Cluster хранит task definitions по family с ревизиями, запущенные tasks
// и их теги, считает вызовы по операциям и позволяет подставлять ошибки.
package ecstest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
)

// Имена операций для Calls и FailOn.
const (
	OpRegisterTaskDefinition = "RegisterTaskDefinition"
	OpDescribeTaskDefinition = "DescribeTaskDefinition"
	OpRunTask                = "RunTask"
	OpDescribeTask           = "DescribeTask"
	OpStopTask               = "StopTask"
	OpTagResource            = "TagResource"
	OpListTagsForResource    = "ListTagsForResource"
)

const arnPrefix = "arn:aws:ecs:us-east-1:000000000000:"

// Cluster — фейковый ECS. Безопасен для конкурентного использования.
type Cluster struct {
	mu sync.Mutex

	// InitialStatus — LastStatus нового task (по умолчанию PROVISIONING).
	InitialStatus domain.TaskStatus

	defs   map[string][]*domain.TaskDefinition // family → ревизии по порядку
	tasks  map[string]*domain.Task
	order  []string
	calls  map[string]int
	errors map[string]error
}

var _ ecs.Client = (*Cluster)(nil)

// New создаёт пустой кластер.
func New() *Cluster {
	return &Cluster{
		InitialStatus: domain.TaskStatusProvisioning,
		defs:          make(map[string][]*domain.TaskDefinition),
		tasks:         make(map[string]*domain.Task),
		calls:         make(map[string]int),
		errors:        make(map[string]error),
	}
}

// --- Управление фейком ---

// FailOn заставляет операцию op возвращать err, пока не вызван FailOn(op, nil).
func (c *Cluster) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errors, op)
		return
	}
	c.errors[op] = err
}

// Calls возвращает количество вызовов операции.
func (c *Cluster) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Revisions возвращает все зарегистрированные ревизии family.
func (c *Cluster) Revisions(family string) []domain.TaskDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TaskDefinition, 0, len(c.defs[family]))
	for _, d := range c.defs[family] {
		out = append(out, cloneDefinition(d))
	}
	return out
}

// Tasks возвращает все tasks в порядке запуска.
func (c *Cluster) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Task, 0, len(c.order))
	for _, arn := range c.order {
		out = append(out, cloneTask(c.tasks[arn]))
	}
	return out
}

// SetTaskStatus меняет LastStatus task (эмуляция прогресса в ECS).
func (c *Cluster) SetTaskStatus(taskARN string, status domain.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[taskARN]; ok {
		t.LastStatus = status
	}
}

// StopExternally останавливает task в обход launcher: контейнеры получают exitCode.
func (c *Cluster) StopExternally(taskARN string, exitCode int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[taskARN]; ok {
		stop(t, reason)
		for i := range t.Containers {
			code := exitCode
			t.Containers[i].ExitCode = &code
		}
	}
}

// Forget удаляет task, как будто ECS его больше не знает.
func (c *Cluster) Forget(taskARN string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskARN)
}

// --- ecs.Client ---

// RegisterTaskDefinition добавляет новую ревизию family.
func (c *Cluster) RegisterTaskDefinition(_ context.Context, def domain.TaskDefinition) (*domain.TaskDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpRegisterTaskDefinition); err != nil {
		return nil, err
	}
	if def.Family == "" || len(def.Containers) == 0 {
		return nil, fmt.Errorf("register task definition: family and containers are required")
	}

	stored := cloneDefinition(&def)
	stored.Revision = len(c.defs[def.Family]) + 1
	stored.ARN = fmt.Sprintf("%stask-definition/%s:%d", arnPrefix, def.Family, stored.Revision)
	c.defs[def.Family] = append(c.defs[def.Family], &stored)

	out := cloneDefinition(&stored)
	return &out, nil
}

// DescribeTaskDefinition ищет по ARN, "family:revision" или family (последняя ревизия).
func (c *Cluster) DescribeTaskDefinition(_ context.Context, familyOrARN string) (*domain.TaskDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpDescribeTaskDefinition); err != nil {
		return nil, err
	}

	d := c.lookupDefinition(familyOrARN)
	if d == nil {
		return nil, fmt.Errorf("describe task definition %s: %w", familyOrARN, ecs.ErrDefinitionNotFound)
	}
	out := cloneDefinition(d)
	return &out, nil
}

// RunTask запускает task по зарегистрированной definition.
func (c *Cluster) RunTask(_ context.Context, in ecs.RunTaskInput) (*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpRunTask); err != nil {
		return nil, err
	}

	def := c.lookupDefinition(in.TaskDefinitionARN)
	if def == nil {
		return nil, fmt.Errorf("run task: %w", ecs.ErrDefinitionNotFound)
	}

	cluster := clusterARN(in.Cluster)
	task := &domain.Task{
		TaskARN:           fmt.Sprintf("%stask/%s/%s", arnPrefix, clusterName(cluster), strings.ReplaceAll(uuid.NewString(), "-", "")),
		ClusterARN:        cluster,
		TaskDefinitionARN: def.ARN,
		LastStatus:        c.InitialStatus,
		DesiredStatus:     domain.TaskStatusRunning,
		Network:           cloneNetwork(in.Network),
		Overrides:         cloneOverrides(in.Overrides),
		Tags:              maps.Clone(in.Tags),
	}
	if task.Tags == nil {
		task.Tags = map[string]string{}
	}
	for _, spec := range def.Containers {
		task.Containers = append(task.Containers, domain.ContainerState{
			Name:       spec.Name,
			LastStatus: string(domain.TaskStatusPending),
		})
	}

	c.tasks[task.TaskARN] = task
	c.order = append(c.order, task.TaskARN)

	out := cloneTask(task)
	return &out, nil
}

// DescribeTask возвращает копию task.
func (c *Cluster) DescribeTask(_ context.Context, _ string, taskARN string) (*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpDescribeTask); err != nil {
		return nil, err
	}

	t, ok := c.tasks[taskARN]
	if !ok {
		return nil, fmt.Errorf("describe task %s: %w", taskARN, ecs.ErrTaskNotFound)
	}
	out := cloneTask(t)
	return &out, nil
}

// StopTask переводит task в STOPPED. Повторная остановка не ошибка, как в ECS.
func (c *Cluster) StopTask(_ context.Context, _ string, taskARN, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpStopTask); err != nil {
		return err
	}

	t, ok := c.tasks[taskARN]
	if !ok {
		return fmt.Errorf("stop task %s: %w", taskARN, ecs.ErrTaskNotFound)
	}
	stop(t, reason)
	return nil
}

// TagResource добавляет теги task.
func (c *Cluster) TagResource(_ context.Context, arn string, tags map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpTagResource); err != nil {
		return err
	}

	t, ok := c.tasks[arn]
	if !ok {
		return fmt.Errorf("tag resource %s: %w", arn, ecs.ErrTaskNotFound)
	}
	maps.Copy(t.Tags, tags)
	return nil
}

// ListTagsForResource возвращает теги task.
func (c *Cluster) ListTagsForResource(_ context.Context, arn string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpListTagsForResource); err != nil {
		return nil, err
	}

	t, ok := c.tasks[arn]
	if !ok {
		return nil, fmt.Errorf("list tags %s: %w", arn, ecs.ErrTaskNotFound)
	}
	return maps.Clone(t.Tags), nil
}

// --- Helpers ---

// call считает вызов и возвращает подставленную ошибку. Вызывается под mu.
func (c *Cluster) call(op string) error {
	c.calls[op]++
	return c.errors[op]
}

func (c *Cluster) lookupDefinition(ref string) *domain.TaskDefinition {
	ref = strings.TrimPrefix(ref, arnPrefix+"task-definition/")
	family, rev, hasRev := strings.Cut(ref, ":")

	revs := c.defs[family]
	if len(revs) == 0 {
		return nil
	}
	if !hasRev {
		return revs[len(revs)-1]
	}
	for _, d := range revs {
		if fmt.Sprint(d.Revision) == rev {
			return d
		}
	}
	return nil
}

func stop(t *domain.Task, reason string) {
	t.DesiredStatus = domain.TaskStatusStopped
	t.LastStatus = domain.TaskStatusStopped
	if t.StoppedReason == "" {
		t.StoppedReason = reason
	}
	for i := range t.Containers {
		t.Containers[i].LastStatus = string(domain.TaskStatusStopped)
	}
}

func clusterARN(name string) string {
	if name == "" {
		name = "default"
	}
	if strings.HasPrefix(name, "arn:") {
		return name
	}
	return arnPrefix + "cluster/" + name
}

func clusterName(arn string) string {
	return arn[strings.LastIndex(arn, "/")+1:]
}

func cloneDefinition(d *domain.TaskDefinition) domain.TaskDefinition {
	out := *d
	out.RequiresCompatibilities = slices.Clone(d.RequiresCompatibilities)
	out.Containers = make([]domain.ContainerSpec, 0, len(d.Containers))
	for _, spec := range d.Containers {
		spec.Environment = slices.Clone(spec.Environment)
		spec.Command = slices.Clone(spec.Command)
		out.Containers = append(out.Containers, spec)
	}
	return out
}

func cloneTask(t *domain.Task) domain.Task {
	out := *t
	out.Network = cloneNetwork(t.Network)
	out.Overrides = cloneOverrides(t.Overrides)
	out.Containers = slices.Clone(t.Containers)
	out.Tags = maps.Clone(t.Tags)
	return out
}

func cloneNetwork(n domain.NetworkConfig) domain.NetworkConfig {
	n.Subnets = slices.Clone(n.Subnets)
	n.SecurityGroups = slices.Clone(n.SecurityGroups)
	return n
}

func cloneOverrides(overrides []domain.ContainerOverride) []domain.ContainerOverride {
	out := make([]domain.ContainerOverride, 0, len(overrides))
	for _, o := range overrides {
		o.Command = slices.Clone(o.Command)
		out = append(out, o)
	}
	return out
}
