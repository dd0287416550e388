package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCorrelationCmd создаёт группу команд для ожиданий callbacks.
func NewCorrelationCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correlation",
		Short: "Manage callback correlations",
	}

	cmd.AddCommand(newCorrelationRegisterCmd(clientFn, outputFn))

	return cmd
}

func newCorrelationRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var instanceID string
	var signalName string

	cmd := &cobra.Command{
		Use:   "register CORRELATION_KEY",
		Short: "Register a pending correlation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pc, err := client.RegisterCorrelation(RegisterCorrelationRequest{
				CorrelationKey: args[0],
				InstanceID:     instanceID,
				SignalName:     signalName,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Correlation registered: %s", pc.CorrelationKey))
			out.Print(
				[]string{"CORRELATION_KEY", "INSTANCE_ID", "SIGNAL_NAME", "CREATED"},
				[][]string{{pc.CorrelationKey, pc.InstanceID, pc.SignalName, pc.CreatedAt}},
				pc,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance-id", "", "Waiting process instance ID (required)")
	cmd.Flags().StringVar(&signalName, "signal", "", "Resume signal name (required)")
	cmd.MarkFlagRequired("instance-id")
	cmd.MarkFlagRequired("signal")

	return cmd
}
