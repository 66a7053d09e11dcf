package launcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
)

// Discovery — параметры, которые launcher узнал о собственном ECS task.
type Discovery struct {
	TaskARN    string
	Cluster    string
	BaseFamily string
	Network    domain.NetworkConfig
}

// Discover читает метаданные контейнера (ECS_CONTAINER_METADATA_URI_V4),
// описывает собственный task и определяет его сеть через ENI.
//
// Запускаемые runs наследуют кластер, task definition и сеть launcher'а.
func Discover(ctx context.Context, httpClient *http.Client, client ecs.Client, ec2API ecs.EC2API) (*Discovery, error) {
	md, err := ecs.FetchMetadata(ctx, httpClient)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	task, err := client.DescribeTask(ctx, md.Cluster, md.TaskARN)
	if err != nil {
		return nil, fmt.Errorf("describe own task: %w", err)
	}

	family := md.Family
	if family == "" {
		def, err := client.DescribeTaskDefinition(ctx, task.TaskDefinitionARN)
		if err != nil {
			return nil, fmt.Errorf("describe own task definition: %w", err)
		}
		family = def.Family
	}

	d := &Discovery{
		TaskARN:    md.TaskARN,
		Cluster:    md.Cluster,
		BaseFamily: family,
	}

	if ec2API != nil && task.NetworkInterfaceID != "" {
		network, err := ecs.DiscoverNetwork(ctx, ec2API, task)
		if err != nil {
			return nil, fmt.Errorf("discover network: %w", err)
		}
		d.Network = network
	}

	return d, nil
}

// Apply заполняет пустые поля cfg найденными значениями.
// Явно заданная конфигурация имеет приоритет.
func (d *Discovery) Apply(cfg *Config) {
	if cfg.Cluster == "" {
		cfg.Cluster = d.Cluster
	}
	if cfg.BaseFamily == "" {
		cfg.BaseFamily = d.BaseFamily
	}
	if cfg.Network.IsEmpty() {
		cfg.Network = d.Network
	}
}
