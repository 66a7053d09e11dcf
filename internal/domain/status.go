package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → QUEUED → STARTING → RUNNING → SUCCEEDED
//	                                      ↘ FAILED
//	          (или) → CANCELLED (из любого нефинального статуса)
type RunStatus string

const (
	// RunStatusPending — run создан, запуск не запрашивался.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusQueued — запуск запрошен через очередь.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusStarting — ECS task создан, но ещё не RUNNING.
	RunStatusStarting RunStatus = "STARTING"

	// RunStatusRunning — ECS task выполняется.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — контейнер run завершился с кодом 0.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — контейнер завершился с ошибкой или task не стартовал.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run остановлен через Terminate.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус ECS task (lastStatus / desiredStatus).
//
// Жизненный цикл в ECS:
//
//	PROVISIONING → PENDING → ACTIVATING → RUNNING →
//	DEACTIVATING → STOPPING → DEPROVISIONING → STOPPED
type TaskStatus string

const (
	TaskStatusProvisioning   TaskStatus = "PROVISIONING"
	TaskStatusPending        TaskStatus = "PENDING"
	TaskStatusActivating     TaskStatus = "ACTIVATING"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusDeactivating   TaskStatus = "DEACTIVATING"
	TaskStatusStopping       TaskStatus = "STOPPING"
	TaskStatusDeprovisioning TaskStatus = "DEPROVISIONING"
	TaskStatusStopped        TaskStatus = "STOPPED"
)

// IsActive возвращает true, пока task ещё не начал останавливаться.
// PENDING считается активным: такой task можно остановить.
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusProvisioning, TaskStatusPending, TaskStatusActivating, TaskStatusRunning:
		return true
	default:
		return false
	}
}

// LaunchState — состояние запуска run, вычисляемое по тегам и ECS.
//
//	UNLAUNCHED → ACTIVE → TERMINATED
type LaunchState string

const (
	// LaunchStateUnlaunched — в тегах run нет ссылки на task.
	LaunchStateUnlaunched LaunchState = "UNLAUNCHED"

	// LaunchStateActive — ссылка есть, task в ECS ещё работает.
	LaunchStateActive LaunchState = "ACTIVE"

	// LaunchStateTerminated — task остановлен или Terminate уже отработал.
	LaunchStateTerminated LaunchState = "TERMINATED"
)
