package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewCallbackCmd создаёт группу команд для работы с callbacks.
func NewCallbackCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callback",
		Short: "Manage callbacks",
	}

	cmd.AddCommand(
		newCallbackSendCmd(clientFn, outputFn),
		newCallbackListCmd(clientFn, outputFn),
	)

	return cmd
}

func newCallbackSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payloadJSON string
	var fields []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a callback to the webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			payload, err := buildPayload(payloadJSON, fields)
			if err != nil {
				return err
			}
			if len(payload) == 0 {
				return fmt.Errorf("callback payload is empty, use --payload or --field")
			}

			ack, err := client.SendCallback(payload)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Callback accepted: %s", ack.CallbackID))
			out.Print(
				[]string{"CALLBACK_ID", "CORRELATION_KEY"},
				[][]string{{ack.CallbackID, ack.CorrelationKey}},
				ack,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Callback payload as JSON object")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Payload fields as KEY=VALUE (repeatable)")

	return cmd
}

func newCallbackListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list CORRELATION_KEY",
		Short: "List callbacks for a correlation key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			callbacks, err := client.ListCallbacks(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "CORRELATION_KEY", "PROCESSED", "SIGNAL_SENT", "RECEIVED"}
			rows := make([][]string, len(callbacks))
			for i, cb := range callbacks {
				rows[i] = []string{
					cb.ID,
					cb.CorrelationKey,
					strconv.FormatBool(cb.Processed),
					strconv.FormatBool(cb.SignalSent),
					cb.ReceivedAt,
				}
			}

			out.Print(headers, rows, callbacks)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}
