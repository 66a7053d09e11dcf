// Package coordinator выполняет асинхронные запросы на запуск и остановку runs.
//
// Источники запросов:
//   - очередь runs.launch (run.launch)
//   - очередь runs.terminate (run.terminate)
//   - polling runs в статусе QUEUED
//
// Повторные запросы для уже связанного run подтверждаются без действий.
// Окончательная ошибка запуска переводит run в FAILED.
package coordinator
