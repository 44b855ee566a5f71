package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTxCmd создаёт группу команд для просмотра транзакций.
func NewTxCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transaction"},
		Short:   "Inspect rating transactions",
	}

	cmd.AddCommand(
		newTxListCmd(clientFn, outputFn),
		newTxShowCmd(clientFn, outputFn),
		newTxStepsCmd(clientFn, outputFn),
	)

	return cmd
}

var txHeaders = []string{"ID", "PRODUCT", "ENDPOINT", "STATUS", "PREMIUM", "STEPS", "CREATED"}

func txRow(t *TransactionResponse) []string {
	return []string{
		t.ID,
		t.ProductLineCode,
		t.EndpointPath,
		t.Status,
		formatPremium(t.PremiumResult),
		fmt.Sprintf("%d/%d", t.CompletedSteps, t.StepCount),
		t.CreatedAt,
	}
}

func newTxListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListTransactionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			txs, total, err := client.ListTransactions(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(txs))
			for i := range txs {
				rows[i] = txRow(&txs[i])
			}

			out.Print(txHeaders, rows, txs)
			if !out.JSONMode() && total > len(txs) {
				out.Success(fmt.Sprintf("Showing %d of %d", len(txs), total))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ProductLineCode, "product", "", "Filter by product line code")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (RECEIVED, VALIDATING, PROCESSING, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "Filter by correlation ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newTxShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show transaction details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tx, err := client.GetTransaction(args[0])
			if err != nil {
				return err
			}

			out.Print(append(txHeaders, "ERROR"), [][]string{append(txRow(tx), tx.ErrorMessage)}, tx)
			return nil
		},
	}
}

func newTxStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps ID",
		Short: "Show the step log of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.ListTransactionSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ORDER", "ITER", "STEP", "TYPE", "STATUS", "MS", "ERROR"}
			rows := make([][]string, len(logs))
			for i, l := range logs {
				rows[i] = []string{strconv.Itoa(l.StepOrder), formatIndex(l.IterationIndex), l.StepName, l.StepType, l.Status, strconv.FormatInt(l.DurationMs, 10), l.ErrorMessage}
			}

			out.Print(headers, rows, logs)
			return nil
		},
	}
}
