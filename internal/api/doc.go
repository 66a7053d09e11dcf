// Package api содержит HTTP API run launcher.
//
// Структура:
//   - handler.go          — Handler и интерфейсы зависимостей
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — logging, recovery, латентность запросов
//   - response.go         — JSON-ответы и отображение ошибок в HTTP статусы
//   - dto.go              — request/response
//   - pipeline_handler.go — /pipelines
//   - run_handler.go      — /runs, запуск и остановка
package api
