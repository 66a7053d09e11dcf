// Package ecs — клиент оркестратора контейнеров (AWS ECS).
//
// Структура:
//   - client.go   — интерфейс Client и реализация AWSClient поверх aws-sdk-go-v2
//   - convert.go  — преобразование типов SDK в domain и обратно
//   - errors.go   — сопоставление ошибок API с sentinel-ошибками
//   - metadata.go — ECS container metadata endpoint v4 (кто мы и где запущены)
//   - network.go  — подсеть и security groups по ENI задачи через EC2
//
// Launcher работает только с интерфейсом Client; в тестах вместо ECS
// используется in-memory кластер из пакета ecstest.
package ecs
