package domain

// Task — ECS task, созданный для run.
//
// Task живёт в ECS; сервис только читает его состояние, ставит теги
// и отправляет StopTask. Промежуточными статусами управляет ECS.
type Task struct {
	// TaskARN — ARN задачи в ECS.
	TaskARN string `json:"task_arn"`

	// ClusterARN — ARN кластера, в котором запущен task.
	ClusterARN string `json:"cluster_arn"`

	// TaskDefinitionARN — ARN task definition, по которой создан task.
	TaskDefinitionARN string `json:"task_definition_arn"`

	// LastStatus — последний известный статус.
	LastStatus TaskStatus `json:"last_status,omitempty"`

	// DesiredStatus — статус, к которому стремится ECS (STOPPED после StopTask).
	DesiredStatus TaskStatus `json:"desired_status,omitempty"`

	// Network — сетевые привязки (awsvpc).
	Network NetworkConfig `json:"network"`

	// NetworkInterfaceID — ENI задачи, из него берутся подсеть и security groups.
	NetworkInterfaceID string `json:"network_interface_id,omitempty"`

	// Overrides — переопределения контейнеров, переданные в RunTask.
	Overrides []ContainerOverride `json:"overrides,omitempty"`

	// Containers — состояние контейнеров (exit code после остановки).
	Containers []ContainerState `json:"containers,omitempty"`

	// StoppedReason — причина остановки от ECS.
	StoppedReason string `json:"stopped_reason,omitempty"`

	// Tags — теги ресурса в ECS.
	Tags map[string]string `json:"tags,omitempty"`
}

// IsStopped возвращает true, если task остановлен или останавливается.
func (t *Task) IsStopped() bool {
	if t.DesiredStatus == TaskStatusStopped {
		return true
	}
	return t.LastStatus != "" && !t.LastStatus.IsActive()
}

// Container возвращает состояние контейнера по имени.
func (t *Task) Container(name string) (ContainerState, bool) {
	for _, c := range t.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return ContainerState{}, false
}

// Ref возвращает ссылку на task.
func (t *Task) Ref() TaskRef {
	return TaskRef{TaskARN: t.TaskARN, ClusterARN: t.ClusterARN}
}

// NetworkConfig — awsvpc конфигурация task.
type NetworkConfig struct {
	Subnets        []string `json:"subnets,omitempty" yaml:"subnets,omitempty"`
	SecurityGroups []string `json:"security_groups,omitempty" yaml:"security_groups,omitempty"`
	AssignPublicIP bool     `json:"assign_public_ip,omitempty" yaml:"assign_public_ip,omitempty"`
}

// IsEmpty возвращает true, если подсети не заданы.
func (n NetworkConfig) IsEmpty() bool {
	return len(n.Subnets) == 0
}

// ContainerOverride — переопределение команды контейнера для одного task.
type ContainerOverride struct {
	Name    string   `json:"name"`
	Command []string `json:"command,omitempty"`
}

// ContainerState — состояние контейнера внутри task.
type ContainerState struct {
	Name       string `json:"name"`
	LastStatus string `json:"last_status,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
