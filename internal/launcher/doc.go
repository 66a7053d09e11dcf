// Package launcher запускает runs как ECS tasks и управляет их остановкой.
//
// # Компоненты
//
//   - Resolver — регистрирует task definition "<base>-run" для конкретного run
//   - TagStore — связь run ↔ task через теги (ecs/task_arn, ecs/cluster, dagster/run_id)
//   - Launcher.Launch — запуск run
//   - Launcher.State / CanTerminate / Terminate — жизненный цикл
//
// # Состояния
//
//	UNLAUNCHED → ACTIVE → TERMINATED
//
// Состояние не хранится, а вычисляется по тегам run и статусу task в ECS.
// Task в PENDING считается активным и может быть остановлен.
//
// # Конкурентность
//
// Launch и Terminate для одного run_id выполняются под общим мьютексом,
// разные runs независимы.
package launcher
