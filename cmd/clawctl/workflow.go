package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows (named groups of tasks)",
	}
	cmd.AddCommand(newWorkflowCreateCommand())
	cmd.AddCommand(newWorkflowListCommand())
	cmd.AddCommand(newWorkflowGetCommand())
	cmd.AddCommand(newWorkflowStartCommand())
	cmd.AddCommand(newWorkflowCancelCommand())
	cmd.AddCommand(newWorkflowRemoveCommand())
	return cmd
}

func newWorkflowCreateCommand() *cobra.Command {
	var (
		description string
		tasksFile   string
		tasksJSON   string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workflow with its member tasks",
		Args:  cobra.ExactArgs(1),
		Example: `  clawctl workflow create nightly --tasks='[{"title":"fetch","capability":"fetch"}]'
  clawctl workflow create nightly --tasks-file=pipeline.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := tasksJSON
			if tasksFile != "" {
				data, err := os.ReadFile(tasksFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", tasksFile, err)
				}
				raw = string(data)
			}

			body := map[string]interface{}{
				"name":        args[0],
				"description": description,
			}
			if raw != "" {
				var tasks []map[string]interface{}
				if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
					return fmt.Errorf("invalid tasks JSON: %w", err)
				}
				body["tasks"] = tasks
			}

			client := newClient()
			data, err := client.post("/api/v1/workflows", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Workflow description")
	cmd.Flags().StringVar(&tasksJSON, "tasks", "", "Member tasks as a JSON array")
	cmd.Flags().StringVar(&tasksFile, "tasks-file", "", "File containing the member task JSON array")
	return cmd
}

func newWorkflowListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows with derived status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/workflows", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkflowGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Show a workflow, its status and member tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/workflows/%s", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkflowStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Dispatch the workflow's pending tasks to available bots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post(fmt.Sprintf("/api/v1/workflows/%s/start", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkflowCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel every live task in a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post(fmt.Sprintf("/api/v1/workflows/%s/cancel", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkflowRemoveCommand() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:     "rm <workflow-id>",
		Short:   "Delete a workflow",
		Args:    cobra.ExactArgs(1),
		Aliases: []string{"remove", "delete"},
		Example: `  clawctl workflow rm 7e0b... --cascade`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if cascade {
				params.Set("cascade", "true")
			}
			client := newClient()
			if _, err := client.delete(fmt.Sprintf("/api/v1/workflows/%s", args[0]), params); err != nil {
				return err
			}
			fmt.Printf("workflow %s deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Cancel and delete member tasks too")
	return cmd
}
