package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage rating flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowGenerateCmd(clientFn, outputFn),
		newFlowStatusCmd(clientFn, outputFn, "activate", "active"),
		newFlowStatusCmd(clientFn, outputFn, "deactivate", "draft"),
		newFlowDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var flowHeaders = []string{"ID", "PRODUCT", "ENDPOINT", "NAME", "STATUS", "STEPS"}

func flowRow(f *FlowResponse) []string {
	return []string{f.ID, f.ProductLineCode, f.EndpointPath, f.Name, f.Status, strconv.Itoa(len(f.Steps))}
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var product string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows(product)
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			out.Print(flowHeaders, rows, flows)
			return nil
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "Filter by product line code")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PRODUCT ENDPOINT",
		Short: "Show flow with its steps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0], args[1])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(flow)
				return nil
			}
			out.Table(flowHeaders, [][]string{flowRow(flow)})
			out.Table(stepHeaders, stepRows(flow.Steps))
			return nil
		},
	}
}

func newFlowGenerateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req GenerateFlowRequest

	cmd := &cobra.Command{
		Use:   "generate PRODUCT ENDPOINT",
		Short: "Generate a flow from a built-in template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GenerateFlow(args[0], args[1], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow generated: %s (%d steps)", flow.ID, len(flow.Steps)))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Format, "format", "json", "Template format (json, xml)")
	cmd.Flags().StringVar(&req.EngineURL, "engine-url", "", "Rating engine URL (mock engine if empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Flow name")
	cmd.Flags().BoolVar(&req.Activate, "activate", false, "Activate the flow immediately")

	return cmd
}

func newFlowStatusCmd(clientFn func() *Client, outputFn func() *Output, use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PRODUCT ENDPOINT",
		Short: fmt.Sprintf("Set flow status to %s", status),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.SetFlowStatus(args[0], args[1], status)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow %s/%s is %s", args[0], args[1], flow.Status))
			return nil
		},
	}
}

func newFlowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PRODUCT ENDPOINT",
		Short: "Delete a flow and its steps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteFlow(args[0], args[1]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow deleted: %s/%s", args[0], args[1]))
			return nil
		},
	}
}
