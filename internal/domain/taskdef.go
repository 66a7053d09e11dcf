package domain

// TaskDefinition — неизменяемый шаблон ECS task.
//
// Для каждого запуска регистрируется новая ревизия; существующие
// определения никогда не меняются.
type TaskDefinition struct {
	// ARN — заполняется после регистрации.
	ARN string `json:"arn,omitempty"`

	// Family — семейство определений (например, "dagster-run").
	Family string `json:"family"`

	// Revision — номер ревизии внутри семейства.
	Revision int `json:"revision,omitempty"`

	// Containers — контейнеры в порядке объявления.
	Containers []ContainerSpec `json:"containers"`

	// Поля уровня task, нужные для запуска на Fargate/awsvpc.
	NetworkMode             string   `json:"network_mode,omitempty"`
	RequiresCompatibilities []string `json:"requires_compatibilities,omitempty"`
	CPU                     string   `json:"cpu,omitempty"`
	Memory                  string   `json:"memory,omitempty"`
	ExecutionRoleARN        string   `json:"execution_role_arn,omitempty"`
	TaskRoleARN             string   `json:"task_role_arn,omitempty"`
}

// ContainerSpec — описание контейнера в task definition.
type ContainerSpec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Environment []EnvVar `json:"environment,omitempty"`
	Command     []string          `json:"command,omitempty"`
}

// EnvVar — переменная окружения контейнера. Порядок в ContainerSpec
// совпадает с порядком в definition.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
