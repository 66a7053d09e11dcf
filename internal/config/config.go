// Package config загружает конфигурацию экземпляра launcher из YAML.
//
// Пример:
//
//	run_launcher:
//	  cluster: default
//	  task_definition: dagster
//	  launch_type: FARGATE
//	  subnets: [subnet-1]
//	  security_groups: [sg-1]
//	monitor:
//	  schedule: "@every 30s"
//
// Переменные окружения AUTOMATA_ECS_CLUSTER, AUTOMATA_ECS_TASK_DEFINITION
// и AWS_REGION перекрывают значения из файла.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// Переменные окружения.
const (
	EnvCluster        = "AUTOMATA_ECS_CLUSTER"
	EnvTaskDefinition = "AUTOMATA_ECS_TASK_DEFINITION"
	EnvRegion         = "AWS_REGION"
)

// Default values.
const (
	DefaultMonitorSchedule = "@every 30s"
	DefaultMonitorBatch    = 100
)

// Ошибки конфигурации.
var (
	// ErrConfigEmpty — файл конфигурации пустой.
	ErrConfigEmpty = errors.New("configuration is empty")

	// ErrInvalidLaunchType — launch_type не FARGATE, EC2 или EXTERNAL.
	ErrInvalidLaunchType = errors.New("run_launcher.launch_type is invalid")

	// ErrSecurityGroupsWithoutSubnets — security groups заданы без подсетей.
	ErrSecurityGroupsWithoutSubnets = errors.New("run_launcher.security_groups require subnets")

	// ErrInvalidSchedule — monitor.schedule не парсится.
	ErrInvalidSchedule = errors.New("monitor.schedule is invalid")
)

var launchTypes = []string{"FARGATE", "EC2", "EXTERNAL"}

// Instance — конфигурация экземпляра.
type Instance struct {
	RunLauncher RunLauncher `yaml:"run_launcher"`
	Monitor     Monitor     `yaml:"monitor"`
}

// RunLauncher — параметры запуска runs в ECS.
type RunLauncher struct {
	// Cluster — кластер ECS. Пусто — кластер самого launcher'а.
	Cluster string `yaml:"cluster"`

	// TaskDefinition — базовая family, от которой наследуется environment.
	// Пусто — family собственного task (discover) или "automata".
	TaskDefinition string `yaml:"task_definition"`

	// LaunchType — FARGATE, EC2, EXTERNAL или пусто.
	LaunchType string `yaml:"launch_type"`

	Subnets        []string `yaml:"subnets"`
	SecurityGroups []string `yaml:"security_groups"`
	AssignPublicIP bool     `yaml:"assign_public_ip"`

	// Entrypoint — команда перед "execute_run" внутри образа.
	Entrypoint []string `yaml:"entrypoint"`

	// Region — регион AWS. Пусто — из окружения SDK.
	Region string `yaml:"region"`

	// Discover — определять кластер, family и сеть по метаданным собственного task.
	Discover bool `yaml:"discover"`
}

// Network возвращает awsvpc конфигурацию.
func (r RunLauncher) Network() domain.NetworkConfig {
	return domain.NetworkConfig{
		Subnets:        slices.Clone(r.Subnets),
		SecurityGroups: slices.Clone(r.SecurityGroups),
		AssignPublicIP: r.AssignPublicIP,
	}
}

// Monitor — параметры сверки статусов runs с ECS.
type Monitor struct {
	// Schedule — cron-выражение или @every.
	Schedule string `yaml:"schedule"`

	// BatchSize — количество runs за один проход.
	BatchSize int `yaml:"batch_size"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Instance {
	return Instance{
		Monitor: Monitor{
			Schedule:  DefaultMonitorSchedule,
			BatchSize: DefaultMonitorBatch,
		},
	}
}

// Load читает конфигурацию из файла. Пустой path — значения по умолчанию.
// В обоих случаях применяются переменные окружения и валидация.
func Load(path string) (*Instance, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes разбирает YAML поверх значений по умолчанию.
func LoadFromBytes(data []byte) (*Instance, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrConfigEmpty
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию и нормализует launch_type.
func (c *Instance) Validate() error {
	rl := &c.RunLauncher

	rl.LaunchType = strings.ToUpper(strings.TrimSpace(rl.LaunchType))
	if rl.LaunchType != "" && !slices.Contains(launchTypes, rl.LaunchType) {
		return fmt.Errorf("%w: %q", ErrInvalidLaunchType, rl.LaunchType)
	}
	if len(rl.SecurityGroups) > 0 && len(rl.Subnets) == 0 {
		return ErrSecurityGroupsWithoutSubnets
	}

	if c.Monitor.Schedule == "" {
		c.Monitor.Schedule = DefaultMonitorSchedule
	}
	if _, err := ParseSchedule(c.Monitor.Schedule); err != nil {
		return err
	}
	if c.Monitor.BatchSize <= 0 {
		c.Monitor.BatchSize = DefaultMonitorBatch
	}
	return nil
}

// ParseSchedule разбирает monitor.schedule (5 полей или дескриптор @every / @hourly).
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

func (c *Instance) applyEnv() {
	if v := os.Getenv(EnvCluster); v != "" {
		c.RunLauncher.Cluster = v
	}
	if v := os.Getenv(EnvTaskDefinition); v != "" {
		c.RunLauncher.TaskDefinition = v
	}
	if v := os.Getenv(EnvRegion); v != "" && c.RunLauncher.Region == "" {
		c.RunLauncher.Region = v
	}
}
