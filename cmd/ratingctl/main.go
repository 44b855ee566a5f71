// ratingctl — инструмент командной строки для рейтинга и управления
// flows, шагами и транзакциями через HTTP API.
//
// Использование:
//
//	ratingctl [--api-url URL] [--json] [--correlation-id ID] <command> <subcommand> [flags]
//
// Команды:
//
//	rate      Рейтинг документа
//	flow      Управление flows
//	step      Управление шагами flow
//	tx        Журнал транзакций
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/ratingflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var correlationID string

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("RATING_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd := &cobra.Command{
		Use:           "ratingctl",
		Short:         "ratingctl — insurance rating pipeline tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (env RATING_API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "Correlation ID sent with requests")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL).WithCorrelationID(correlationID) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRateCmd(clientFn, outputFn),
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewStepCmd(clientFn, outputFn),
		cli.NewTxCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
