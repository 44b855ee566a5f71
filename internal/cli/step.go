package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStepCmd создаёт группу команд для управления шагами flow.
func NewStepCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Manage flow steps",
	}

	cmd.AddCommand(
		newStepListCmd(clientFn, outputFn),
		newStepShowCmd(clientFn, outputFn),
		newStepAddCmd(clientFn, outputFn),
		newStepDeleteCmd(clientFn, outputFn),
		newStepReorderCmd(clientFn, outputFn),
	)

	return cmd
}

var stepHeaders = []string{"ORDER", "ID", "TYPE", "NAME", "ACTIVE", "CONDITION"}

func stepRows(steps []StepResponse) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		rows[i] = []string{strconv.Itoa(s.StepOrder), s.ID, s.StepType, s.Name, strconv.FormatBool(s.IsActive), s.RunCondition}
	}
	return rows
}

func newStepListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list PRODUCT ENDPOINT",
		Short: "List steps in execution order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ListSteps(args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(stepHeaders, stepRows(steps), steps)
			return nil
		},
	}
}

func newStepShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PRODUCT ENDPOINT STEP_ID",
		Short: "Show a single step",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			step, err := client.GetStep(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			out.Print(stepHeaders, stepRows([]StepResponse{*step}), step)
			return nil
		},
	}
}

func newStepAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		req      StepRequest
		config   string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add PRODUCT ENDPOINT",
		Short: "Append a step to a flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if config != "" {
				if err := json.Unmarshal([]byte(config), &req.Config); err != nil {
					return fmt.Errorf("invalid --config JSON: %w", err)
				}
			}
			if inactive {
				active := false
				req.IsActive = &active
			}

			step, err := client.AddStep(args[0], args[1], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step added: %s (order %d)", step.ID, step.StepOrder))
			out.Print(stepHeaders, stepRows([]StepResponse{*step}), step)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.StepType, "type", "", "Step type (required)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Step name (required)")
	cmd.Flags().IntVar(&req.StepOrder, "order", 0, "Step order (appended if not set)")
	cmd.Flags().StringVar(&config, "config", "", "Step config as JSON")
	cmd.Flags().StringVar(&req.RunCondition, "when", "", "Run condition expression")
	cmd.Flags().StringVar(&req.IteratePath, "iterate", "", "Collection path for iterative steps")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the step disabled")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newStepDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PRODUCT ENDPOINT STEP_ID",
		Short: "Delete a step",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteStep(args[0], args[1], args[2]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step deleted: %s", args[2]))
			return nil
		},
	}
}

func newStepReorderCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder PRODUCT ENDPOINT STEP_ID...",
		Short: "Set step order to the given ID sequence",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ReorderSteps(args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			out.Success("Steps reordered")
			out.Print(stepHeaders, stepRows(steps), steps)
			return nil
		},
	}
}
