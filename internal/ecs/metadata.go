package ecs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	metadata "github.com/brunoscheufler/aws-ecs-metadata-go"
)

// MetadataEnv — переменная окружения, которую ECS выставляет контейнеру.
const MetadataEnv = "ECS_CONTAINER_METADATA_URI_V4"

// ErrNoMetadata — процесс запущен не внутри ECS task.
var ErrNoMetadata = errors.New("ecs container metadata not available")

// Metadata — то, что launcher узнаёт о собственном task.
type Metadata struct {
	ContainerName string
	Cluster       string
	TaskARN       string
	Family        string
	Revision      string
}

// MetadataURI возвращает адрес endpoint'а метаданных из окружения.
func MetadataURI() (string, error) {
	uri := os.Getenv(MetadataEnv)
	if uri == "" {
		return "", ErrNoMetadata
	}
	return uri, nil
}

// FetchMetadata читает метаданные контейнера и task из endpoint'а v4
// (адрес берётся из MetadataEnv).
func FetchMetadata(ctx context.Context, client *http.Client) (*Metadata, error) {
	if _, err := MetadataURI(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	container, err := metadata.GetContainerV4(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("container metadata: %w", err)
	}

	task, err := metadata.GetTaskV4(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("task metadata: %w", err)
	}
	if task.TaskARN == "" {
		return nil, fmt.Errorf("task metadata: empty TaskARN: %w", ErrNoMetadata)
	}

	return &Metadata{
		ContainerName: container.Name,
		Cluster:       task.Cluster,
		TaskARN:       task.TaskARN,
		Family:        task.Family,
		Revision:      task.Revision,
	}, nil
}
