package ecs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Ошибки клиента ECS.
var (
	// ErrDefinitionNotFound — task definition (family или ARN) не найдена.
	ErrDefinitionNotFound = errors.New("task definition not found")

	// ErrTaskNotFound — task не найден в кластере.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskStopped — task уже остановлен.
	ErrTaskStopped = errors.New("task already stopped")

	// ErrClusterNotFound — кластер не существует. Это ошибка конфигурации,
	// а не признак остановленного task.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrNoTaskStarted — RunTask не вернул ни одного task.
	ErrNoTaskStarted = errors.New("no task started")
)

// IsGone возвращает true для ответов "не найден" / "уже остановлен".
// Такие ответы при остановке task не считаются ошибкой.
func IsGone(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskStopped)
}

// Коды ошибок ECS API.
const (
	codeClusterNotFound  = "ClusterNotFoundException"
	codeInvalidParameter = "InvalidParameterException"
	codeResourceNotFound = "ResourceNotFoundException"
	codeClientException  = "ClientException"
)

// mapTaskError переводит ошибку API про task в sentinel-ошибку,
// сохраняя исходную в цепочке. Решение принимается по коду ошибки;
// текст проверяется только внутри InvalidParameterException и
// ClientException, которыми ECS отвечает и на другие ошибки параметров.
func mapTaskError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := strings.ToLower(apiErr.ErrorMessage())
	switch apiErr.ErrorCode() {
	case codeClusterNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrClusterNotFound, err)
	case codeResourceNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrTaskNotFound, err)
	case codeInvalidParameter, codeClientException:
		switch {
		case strings.Contains(msg, "task was not found"), strings.Contains(msg, "task not found"):
			return fmt.Errorf("%s: %w: %w", op, ErrTaskNotFound, err)
		case strings.Contains(msg, "already stopped"):
			return fmt.Errorf("%s: %w: %w", op, ErrTaskStopped, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapDefinitionError переводит ошибку DescribeTaskDefinition.
// ECS отвечает ClientException "Unable to describe task definition."
func mapDefinitionError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.ErrorMessage())
		if apiErr.ErrorCode() == codeClientException &&
			(strings.Contains(msg, "unable to describe") || strings.Contains(msg, "not found")) {
			return fmt.Errorf("%s: %w: %w", op, ErrDefinitionNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// failureError собирает ошибку из Failures ответа RunTask/DescribeTasks.
func failureError(op, arn, reason, detail string) error {
	if reason == "MISSING" {
		return fmt.Errorf("%s %s: %w", op, arn, ErrTaskNotFound)
	}
	if detail != "" {
		return fmt.Errorf("%s %s: %s (%s)", op, arn, reason, detail)
	}
	return fmt.Errorf("%s %s: %s", op, arn, reason)
}
