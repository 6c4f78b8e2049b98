package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCommand())
	cmd.AddCommand(newTaskListCommand())
	cmd.AddCommand(newTaskGetCommand())
	cmd.AddCommand(newTaskAssignCommand())
	cmd.AddCommand(newTaskCancelCommand())
	cmd.AddCommand(newTaskWatchCommand())
	return cmd
}

func newTaskCreateCommand() *cobra.Command {
	var (
		description string
		capability  string
		payload     string
		timeout     int
	)
	cmd := &cobra.Command{
		Use:     "create <title>",
		Short:   "Create a task",
		Args:    cobra.ExactArgs(1),
		Example: `  clawctl task create "Fetch docs" --capability=fetch --timeout=120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"title":       args[0],
				"description": description,
			}
			if capability != "" {
				body["capability"] = capability
			}
			if timeout > 0 {
				body["timeout_seconds"] = timeout
			}
			if payload != "" {
				var p map[string]interface{}
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
				body["payload"] = p
			}
			client := newClient()
			data, err := client.post("/api/v1/tasks", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&capability, "capability", "c", "", "Required bot capability")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Task payload as JSON")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "Timeout in seconds (default 300)")
	return cmd
}

func newTaskListCommand() *cobra.Command {
	var (
		status     string
		workflowID string
		botID      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Example: `  clawctl task list
  clawctl task list --status=pending --limit=20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if workflowID != "" {
				params.Set("workflow_id", workflowID)
			}
			if botID != "" {
				params.Set("assigned_bot", botID)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			client := newClient()
			data, err := client.get("/api/v1/tasks", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&botID, "bot", "", "Filter by assigned bot")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit results")
	return cmd
}

func newTaskGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/tasks/%s", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTaskAssignCommand() *cobra.Command {
	var botID string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a pending task to a bot",
		Args:  cobra.ExactArgs(1),
		Example: `  clawctl task assign 4f1c... # auto-select a capable bot
  clawctl task assign 4f1c... --bot=9a2e...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{}
			if botID != "" {
				body["bot_id"] = botID
			}
			client := newClient()
			data, err := client.post(fmt.Sprintf("/api/v1/tasks/%s/assign", args[0]), body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&botID, "bot", "b", "", "Bot ID (omit to auto-select)")
	return cmd
}

func newTaskCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post(fmt.Sprintf("/api/v1/tasks/%s/cancel", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTaskWatchCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:     "watch <task-id>",
		Short:   "Poll a task until it reaches a terminal state",
		Args:    cobra.ExactArgs(1),
		Example: `  clawctl task watch 4f1c... --interval=2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			path := fmt.Sprintf("/api/v1/tasks/%s", args[0])
			lastStatus := ""
			for {
				data, err := client.get(path, nil)
				if err != nil {
					return err
				}
				var task struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal(data, &task); err != nil {
					return fmt.Errorf("unexpected response: %w", err)
				}
				if task.Status != lastStatus {
					outputJSON(data)
					lastStatus = task.Status
				}
				switch task.Status {
				case "completed", "failed", "cancelled":
					return nil
				}
				time.Sleep(interval)
			}
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "Poll interval")
	return cmd
}
