package launcher

import (
	"errors"
	"fmt"
)

// Ошибки launcher.
var (
	// ErrNotFound — базовая task definition или task не найдены.
	ErrNotFound = errors.New("not found")

	// ErrLaunch — ECS отклонил регистрацию definition или RunTask.
	// Конкретная ошибка — *LaunchError.
	ErrLaunch = errors.New("launch failed")

	// ErrAlreadyLinked — у run уже есть ссылка на task.
	ErrAlreadyLinked = errors.New("run already linked to a task")

	// ErrOrchestrator — неожиданная ошибка ECS при остановке.
	// Конкретная ошибка — *OrchestratorError.
	ErrOrchestrator = errors.New("orchestrator error")

	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidArgument — пустой образ, команда или pipeline.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LaunchError — запуск run не удался, run остаётся UNLAUNCHED.
type LaunchError struct {
	RunID string
	Op    string
	Err   error
}

func (e *LaunchError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("launch: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("launch run %s: %s: %v", e.RunID, e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is позволяет проверять errors.Is(err, ErrLaunch).
func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// OrchestratorError — ECS отклонил StopTask для активного task.
type OrchestratorError struct {
	RunID   string
	TaskARN string
	Op      string
	Err     error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s for run %s (task %s): %v", e.Op, e.RunID, e.TaskARN, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// Is позволяет проверять errors.Is(err, ErrOrchestrator).
func (e *OrchestratorError) Is(target error) bool { return target == ErrOrchestrator }

// asLaunchError оборачивает err в *LaunchError, если это ещё не он.
func asLaunchError(runID, op string, err error) error {
	var le *LaunchError
	if errors.As(err, &le) {
		if le.RunID == "" {
			le.RunID = runID
		}
		return le
	}
	return &LaunchError{RunID: runID, Op: op, Err: err}
}
