// Package telemetry — логи и метрики launcher.
//
// logging.go настраивает slog (LOG_LEVEL, LOG_FORMAT) и добавляет к логгеру
// run_id, task_arn и pipeline. metrics.go объявляет метрики запусков,
// остановок, вызовов ECS и HTTP API; они отдаются на /metrics.
package telemetry
