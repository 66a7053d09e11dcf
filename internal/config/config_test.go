package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromBytes(t *testing.T) {
	data := []byte(`
run_launcher:
  cluster: prod
  task_definition: dagster
  launch_type: fargate
  subnets: [subnet-1, subnet-2]
  security_groups: [sg-1]
  assign_public_ip: true
  entrypoint: [python, -m, automata]
monitor:
  schedule: "*/5 * * * *"
`)

	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rl := cfg.RunLauncher
	if rl.Cluster != "prod" {
		t.Errorf("expected cluster prod, got %q", rl.Cluster)
	}
	if rl.TaskDefinition != "dagster" {
		t.Errorf("expected task_definition dagster, got %q", rl.TaskDefinition)
	}
	if rl.LaunchType != "FARGATE" {
		t.Errorf("expected launch type normalized to FARGATE, got %q", rl.LaunchType)
	}
	if len(rl.Entrypoint) != 3 || rl.Entrypoint[0] != "python" {
		t.Errorf("unexpected entrypoint %v", rl.Entrypoint)
	}

	net := rl.Network()
	if len(net.Subnets) != 2 || len(net.SecurityGroups) != 1 || !net.AssignPublicIP {
		t.Errorf("unexpected network %+v", net)
	}

	if cfg.Monitor.Schedule != "*/5 * * * *" {
		t.Errorf("unexpected schedule %q", cfg.Monitor.Schedule)
	}
	if cfg.Monitor.BatchSize != DefaultMonitorBatch {
		t.Errorf("expected default batch size, got %d", cfg.Monitor.BatchSize)
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("run_launcher:\n  cluster: c\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RunLauncher.TaskDefinition != "" {
		t.Errorf("expected empty task definition, got %q", cfg.RunLauncher.TaskDefinition)
	}
	if cfg.Monitor.Schedule != DefaultMonitorSchedule {
		t.Errorf("expected default schedule, got %q", cfg.Monitor.Schedule)
	}
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "  \n", ErrConfigEmpty},
		{"bad launch type", "run_launcher:\n  launch_type: LAMBDA\n", ErrInvalidLaunchType},
		{"security groups without subnets", "run_launcher:\n  security_groups: [sg-1]\n", ErrSecurityGroupsWithoutSubnets},
		{"bad schedule", "monitor:\n  schedule: \"every now and then\"\n", ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("run_launcher: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvCluster, "from-env")
	t.Setenv(EnvTaskDefinition, "env-family")
	t.Setenv(EnvRegion, "eu-west-1")

	path := filepath.Join(t.TempDir(), "instance.yaml")
	if err := os.WriteFile(path, []byte("run_launcher:\n  cluster: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RunLauncher.Cluster != "from-env" {
		t.Errorf("expected env cluster, got %q", cfg.RunLauncher.Cluster)
	}
	if cfg.RunLauncher.TaskDefinition != "env-family" {
		t.Errorf("expected env task definition, got %q", cfg.RunLauncher.TaskDefinition)
	}
	if cfg.RunLauncher.Region != "eu-west-1" {
		t.Errorf("expected env region, got %q", cfg.RunLauncher.Region)
	}
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv(EnvCluster, "")
	t.Setenv(EnvTaskDefinition, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RunLauncher.TaskDefinition != "" {
		t.Errorf("expected defaults, got %+v", cfg.RunLauncher)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist error, got %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("@every 30s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if next := sched.Next(from); !next.Equal(from.Add(30 * time.Second)) {
		t.Errorf("expected next in 30s, got %v", next)
	}
}
