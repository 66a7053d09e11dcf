// Package cli реализует инструмент командной строки automata.
//
// CLI работает только через HTTP API и не импортирует внутренние
// пакеты сервиса: типы ответов продублированы в client.go.
//
// Команды:
//   - pipeline: register, list, show
//   - run: create, list, show, launch, status, terminate
//
// Данные выводятся в stdout (таблица или JSON с --json), сообщения в stderr:
//
//	automata run list --status RUNNING --json | jq '.[].task_arn'
//
// Группы команд создаются фабриками (NewPipelineCmd, NewRunCmd), которые
// получают clientFn и outputFn. Client и Output создаются после разбора
// PersistentFlags.
package cli
