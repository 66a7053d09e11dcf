// Automata CLI — управление pipelines и runs через HTTP API run launcher.
//
// Использование:
//
//	automata [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	pipeline  Регистрация pipelines
//	run       Создание, запуск и остановка runs
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/automata-ecs/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version, nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
