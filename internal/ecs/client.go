package ecs

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// Client — операции оркестратора, которые нужны launcher.
type Client interface {
	// RegisterTaskDefinition регистрирует новую ревизию и возвращает её с ARN.
	RegisterTaskDefinition(ctx context.Context, def domain.TaskDefinition) (*domain.TaskDefinition, error)

	// DescribeTaskDefinition возвращает последнюю ревизию family (или ревизию по ARN).
	DescribeTaskDefinition(ctx context.Context, familyOrARN string) (*domain.TaskDefinition, error)

	// RunTask запускает один task.
	RunTask(ctx context.Context, in RunTaskInput) (*domain.Task, error)

	// DescribeTask возвращает текущее состояние task.
	DescribeTask(ctx context.Context, cluster, taskARN string) (*domain.Task, error)

	// StopTask просит ECS остановить task.
	StopTask(ctx context.Context, cluster, taskARN, reason string) error

	// TagResource добавляет теги ресурсу.
	TagResource(ctx context.Context, arn string, tags map[string]string) error

	// ListTagsForResource возвращает теги ресурса.
	ListTagsForResource(ctx context.Context, arn string) (map[string]string, error)
}

// RunTaskInput — параметры запуска task.
type RunTaskInput struct {
	Cluster           string
	TaskDefinitionARN string
	LaunchType        string // FARGATE, EC2 или пусто (capacity provider по умолчанию)
	Network           domain.NetworkConfig
	Overrides         []domain.ContainerOverride
	Tags              map[string]string
}

// API — подмножество методов *ecs.Client из aws-sdk-go-v2.
type API interface {
	RegisterTaskDefinition(ctx context.Context, in *awsecs.RegisterTaskDefinitionInput, optFns ...func(*awsecs.Options)) (*awsecs.RegisterTaskDefinitionOutput, error)
	DescribeTaskDefinition(ctx context.Context, in *awsecs.DescribeTaskDefinitionInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeTaskDefinitionOutput, error)
	RunTask(ctx context.Context, in *awsecs.RunTaskInput, optFns ...func(*awsecs.Options)) (*awsecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, in *awsecs.DescribeTasksInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeTasksOutput, error)
	StopTask(ctx context.Context, in *awsecs.StopTaskInput, optFns ...func(*awsecs.Options)) (*awsecs.StopTaskOutput, error)
	TagResource(ctx context.Context, in *awsecs.TagResourceInput, optFns ...func(*awsecs.Options)) (*awsecs.TagResourceOutput, error)
	ListTagsForResource(ctx context.Context, in *awsecs.ListTagsForResourceInput, optFns ...func(*awsecs.Options)) (*awsecs.ListTagsForResourceOutput, error)
}

// AWSClient реализует Client поверх ECS API.
type AWSClient struct {
	api    API
	logger *slog.Logger
}

// NewAWSClient создаёт клиент. api — обычно awsecs.NewFromConfig(cfg).
func NewAWSClient(api API, logger *slog.Logger) *AWSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSClient{api: api, logger: logger}
}

// NewFromConfig создаёт клиент из конфигурации AWS SDK.
func NewFromConfig(cfg aws.Config, logger *slog.Logger) *AWSClient {
	return NewAWSClient(awsecs.NewFromConfig(cfg), logger)
}

// RegisterTaskDefinition регистрирует новую ревизию task definition.
func (c *AWSClient) RegisterTaskDefinition(ctx context.Context, def domain.TaskDefinition) (*domain.TaskDefinition, error) {
	in := &awsecs.RegisterTaskDefinitionInput{
		Family:               aws.String(def.Family),
		ContainerDefinitions: toContainerDefinitions(def.Containers),
		NetworkMode:          ecstypes.NetworkMode(def.NetworkMode),
		Cpu:                  optionalString(def.CPU),
		Memory:               optionalString(def.Memory),
		ExecutionRoleArn:     optionalString(def.ExecutionRoleARN),
		TaskRoleArn:          optionalString(def.TaskRoleARN),
	}
	for _, compat := range def.RequiresCompatibilities {
		in.RequiresCompatibilities = append(in.RequiresCompatibilities, ecstypes.Compatibility(compat))
	}

	c.logger.Debug("calling external service",
		"operation", "ECS.RegisterTaskDefinition",
		"family", def.Family,
		"containers", len(def.Containers),
	)

	start := time.Now()
	out, err := c.api.RegisterTaskDefinition(ctx, in)
	telemetry.ObserveECSCall("RegisterTaskDefinition", start, err)
	if err != nil {
		return nil, fmt.Errorf("register task definition %s: %w", def.Family, err)
	}
	if out.TaskDefinition == nil {
		return nil, fmt.Errorf("register task definition %s: empty response", def.Family)
	}
	return fromTaskDefinition(out.TaskDefinition), nil
}

// DescribeTaskDefinition возвращает task definition по family или ARN.
func (c *AWSClient) DescribeTaskDefinition(ctx context.Context, familyOrARN string) (*domain.TaskDefinition, error) {
	start := time.Now()
	out, err := c.api.DescribeTaskDefinition(ctx, &awsecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(familyOrARN),
	})
	telemetry.ObserveECSCall("DescribeTaskDefinition", start, err)
	if err != nil {
		return nil, mapDefinitionError("describe task definition "+familyOrARN, err)
	}
	if out.TaskDefinition == nil {
		return nil, fmt.Errorf("describe task definition %s: %w", familyOrARN, ErrDefinitionNotFound)
	}
	return fromTaskDefinition(out.TaskDefinition), nil
}

// RunTask запускает один task и возвращает его описание.
func (c *AWSClient) RunTask(ctx context.Context, in RunTaskInput) (*domain.Task, error) {
	req := &awsecs.RunTaskInput{
		Cluster:        aws.String(in.Cluster),
		TaskDefinition: aws.String(in.TaskDefinitionARN),
		Count:          aws.Int32(1),
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: toContainerOverrides(in.Overrides),
		},
	}
	if in.LaunchType != "" {
		req.LaunchType = ecstypes.LaunchType(in.LaunchType)
	}
	if !in.Network.IsEmpty() {
		req.NetworkConfiguration = toNetworkConfiguration(in.Network)
	}
	if len(in.Tags) > 0 {
		req.Tags = toTags(in.Tags)
	}

	c.logger.Debug("calling external service",
		"operation", "ECS.RunTask",
		"cluster", in.Cluster,
		"task_definition", in.TaskDefinitionARN,
		"subnets", in.Network.Subnets,
	)

	start := time.Now()
	out, err := c.api.RunTask(ctx, req)
	telemetry.ObserveECSCall("RunTask", start, err)
	if err != nil {
		return nil, fmt.Errorf("run task: %w", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return nil, failureError("run task", aws.ToString(f.Arn), aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("run task: %w", ErrNoTaskStarted)
	}

	task := fromTask(out.Tasks[0])
	// RunTask возвращает task до привязки ENI — подставляем запрошенную сеть.
	if task.Network.IsEmpty() {
		task.Network = in.Network
	}
	if len(task.Tags) == 0 {
		task.Tags = maps.Clone(in.Tags)
	}
	return task, nil
}

// DescribeTask возвращает состояние task вместе с тегами.
func (c *AWSClient) DescribeTask(ctx context.Context, cluster, taskARN string) (*domain.Task, error) {
	start := time.Now()
	out, err := c.api.DescribeTasks(ctx, &awsecs.DescribeTasksInput{
		Cluster: aws.String(cluster),
		Tasks:   []string{taskARN},
		Include: []ecstypes.TaskField{ecstypes.TaskFieldTags},
	})
	telemetry.ObserveECSCall("DescribeTasks", start, err)
	if err != nil {
		return nil, mapTaskError("describe task "+taskARN, err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return nil, failureError("describe task", taskARN, aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("describe task %s: %w", taskARN, ErrTaskNotFound)
	}
	return fromTask(out.Tasks[0]), nil
}

// StopTask останавливает task.
func (c *AWSClient) StopTask(ctx context.Context, cluster, taskARN, reason string) error {
	c.logger.Debug("calling external service",
		"operation", "ECS.StopTask",
		"cluster", cluster,
		"task_arn", taskARN,
	)

	start := time.Now()
	_, err := c.api.StopTask(ctx, &awsecs.StopTaskInput{
		Cluster: aws.String(cluster),
		Task:    aws.String(taskARN),
		Reason:  optionalString(reason),
	})
	telemetry.ObserveECSCall("StopTask", start, err)
	return mapTaskError("stop task "+taskARN, err)
}

// TagResource добавляет теги ресурсу ECS.
func (c *AWSClient) TagResource(ctx context.Context, arn string, tags map[string]string) error {
	start := time.Now()
	_, err := c.api.TagResource(ctx, &awsecs.TagResourceInput{
		ResourceArn: aws.String(arn),
		Tags:        toTags(tags),
	})
	telemetry.ObserveECSCall("TagResource", start, err)
	if err != nil {
		return mapTaskError("tag resource "+arn, err)
	}
	return nil
}

// ListTagsForResource возвращает теги ресурса ECS.
func (c *AWSClient) ListTagsForResource(ctx context.Context, arn string) (map[string]string, error) {
	start := time.Now()
	out, err := c.api.ListTagsForResource(ctx, &awsecs.ListTagsForResourceInput{
		ResourceArn: aws.String(arn),
	})
	telemetry.ObserveECSCall("ListTagsForResource", start, err)
	if err != nil {
		return nil, mapTaskError("list tags "+arn, err)
	}
	return fromTags(out.Tags), nil
}
