// Courier CLI — инструмент командной строки для работы со шлюзом
// через HTTP API.
//
// Использование:
//
//	courier [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task         Постановка и просмотр задач
//	callback     Отправка и просмотр callbacks
//	correlation  Регистрация ожиданий callbacks
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Courier/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "courier",
		Short:         "Courier CLI — task gateway tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewCallbackCmd(clientFn, outputFn),
		cli.NewCorrelationCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
