// Package monitor сверяет статусы runs с состоянием их ECS tasks.
//
// Sweep вызывается по cron-расписанию (config monitor.schedule) и
// только на реплике, которая держит pg_advisory_lock:
//
//	STARTING + task RUNNING        → RUNNING
//	task STOPPED, run exit code 0  → SUCCEEDED
//	task STOPPED, иначе            → FAILED (с причиной остановки)
//	task неизвестен ECS            → FAILED
//
// Runs в статусе CANCELLED монитор не трогает.
package monitor
