package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskListCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payloadJSON string
	var fields []string

	cmd := &cobra.Command{
		Use:   "submit TOPIC",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			payload, err := buildPayload(payloadJSON, fields)
			if err != nil {
				return err
			}

			task, err := client.SubmitTask(SubmitTaskRequest{
				Topic:   args[0],
				Payload: payload,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task submitted: %s (%s)", task.ID, task.Status))
			out.Print(
				[]string{"ID", "TOPIC", "STATUS", "ERROR_CODE", "CREATED"},
				[][]string{{task.ID, task.Topic, task.Status, task.ErrorCode, task.CreatedAt}},
				task,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Task payload as JSON object")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Payload fields as KEY=VALUE (repeatable)")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "TOPIC", "STATUS", "ATTEMPT", "ERROR_CODE", "ERROR", "CREATED"},
				[][]string{{task.ID, task.Topic, task.Status, strconv.Itoa(task.Attempt), task.ErrorCode, task.Error, task.CreatedAt}},
				task,
			)
			return nil
		},
	}
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var topic string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(ListTasksOpts{
				Status: status,
				Topic:  topic,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TOPIC", "STATUS", "ATTEMPT", "ERROR_CODE", "CREATED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.Topic, t.Status, strconv.Itoa(t.Attempt), t.ErrorCode, t.CreatedAt}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, IN_PROGRESS, RETRYING, SUCCEEDED, FAILED)")
	cmd.Flags().StringVar(&topic, "topic", "", "Filter by topic")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

// buildPayload собирает payload из --payload JSON и/или --field KEY=VALUE.
// Поля --field перекрывают ключи из --payload.
func buildPayload(payloadJSON string, fields []string) (map[string]any, error) {
	payload := make(map[string]any)

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("invalid --payload JSON: %w", err)
		}
	}

	for _, kv := range fields {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid field format %q, expected KEY=VALUE", kv)
		}
		payload[parts[0]] = parts[1]
	}

	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
