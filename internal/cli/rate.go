package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRateCmd создаёт команду рейтинга.
func NewRateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		payload     string
		payloadFile string
		scope       []string
		async       bool
	)

	cmd := &cobra.Command{
		Use:   "rate PRODUCT [ENDPOINT]",
		Short: "Rate a payload against a product flow",
		Long: `Rate a payload against a product flow.

The payload is read from --payload, --payload-file or stdin (--payload-file -).
Scope dimensions are passed as --scope KEY=VALUE (repeatable).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := readPayload(cmd.InOrStdin(), payload, payloadFile)
			if err != nil {
				return err
			}
			req := RateRequest{Payload: body}
			if req.Scope, err = parseScope(scope); err != nil {
				return err
			}

			endpoint := ""
			if len(args) == 2 {
				endpoint = args[1]
			}

			if async {
				accepted, err := client.RateAsync(args[0], endpoint, req)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Rate request queued: %s", accepted.TransactionID))
				out.Print(
					[]string{"TRANSACTION", "CORRELATION", "STATUS"},
					[][]string{{accepted.TransactionID, accepted.CorrelationID, accepted.Status}},
					accepted,
				)
				return nil
			}

			result, err := client.Rate(args[0], endpoint, req)
			if err != nil {
				return err
			}
			printRateResult(out, result)

			if result.Status != "completed" {
				return fmt.Errorf("rating failed (%s): %s", result.ErrorKind, result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Payload JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to payload JSON file, - for stdin")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "Scope dimension as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the request instead of waiting for the result")

	return cmd
}

func printRateResult(out *Output, r *RateResult) {
	if out.JSONMode() {
		out.JSON(r)
		return
	}

	out.Table(
		[]string{"TRANSACTION", "STATUS", "PREMIUM", "DURATION_MS"},
		[][]string{{r.TransactionID, r.Status, formatPremium(r.Premium), strconv.FormatInt(r.TotalDurationMs, 10)}},
	)

	rows := make([][]string, len(r.StepResults))
	for i, s := range r.StepResults {
		rows[i] = []string{strconv.Itoa(s.StepOrder), formatIndex(s.IterationIndex), s.StepName, s.StepType, s.Status, strconv.FormatInt(s.DurationMs, 10), s.Error}
	}
	out.Table([]string{"ORDER", "ITER", "STEP", "TYPE", "STATUS", "MS", "ERROR"}, rows)
}

// readPayload читает JSON объект из строки, файла или stdin.
func readPayload(stdin io.Reader, inline, file string) (map[string]any, error) {
	var data []byte
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("use either --payload or --payload-file")
	case inline != "":
		data = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		data = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		data = b
	default:
		return nil, fmt.Errorf("payload is required (--payload or --payload-file)")
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return payload, nil
}

// parseScope разбирает KEY=VALUE в карту scope.
func parseScope(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	scope := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid scope format %q, expected KEY=VALUE", kv)
		}
		scope[parts[0]] = parts[1]
	}
	return scope, nil
}
