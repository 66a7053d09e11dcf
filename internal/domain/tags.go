package domain

// Ключи тегов — внешний контракт с инструментами мониторинга.
// Менять нельзя.
const (
	// TagTaskARN — тег run с ARN задачи ECS.
	TagTaskARN = "ecs/task_arn"

	// TagCluster — тег run с ARN кластера ECS.
	TagCluster = "ecs/cluster"

	// TagRunID — тег ECS task с ID run.
	TagRunID = "dagster/run_id"
)

// TaskRef — пара идентификаторов, по которой находится task в ECS.
type TaskRef struct {
	TaskARN    string `json:"task_arn"`
	ClusterARN string `json:"cluster_arn"`
}

// Tags возвращает теги run для этой ссылки.
func (r TaskRef) Tags() map[string]string {
	return map[string]string{
		TagTaskARN: r.TaskARN,
		TagCluster: r.ClusterARN,
	}
}

// TaskRefFromTags извлекает TaskRef из тегов run.
// Ссылка считается заданной, только если есть ARN задачи.
func TaskRefFromTags(tags map[string]string) (TaskRef, bool) {
	arn := tags[TagTaskARN]
	if arn == "" {
		return TaskRef{}, false
	}
	return TaskRef{TaskARN: arn, ClusterARN: tags[TagCluster]}, true
}
