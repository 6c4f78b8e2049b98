package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newBotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Manage registered bots",
	}
	cmd.AddCommand(newBotRegisterCommand())
	cmd.AddCommand(newBotListCommand())
	cmd.AddCommand(newBotGetCommand())
	cmd.AddCommand(newBotRemoveCommand())
	return cmd
}

func newBotRegisterCommand() *cobra.Command {
	var capabilities string
	cmd := &cobra.Command{
		Use:     "register <name>",
		Short:   "Register a new bot",
		Args:    cobra.ExactArgs(1),
		Example: `  clawctl bot register crawler-7 --capabilities=fetch,parse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"name": args[0]}
			if capabilities != "" {
				body["capabilities"] = strings.Split(capabilities, ",")
			}
			client := newClient()
			data, err := client.post("/api/v1/bots", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&capabilities, "capabilities", "c", "", "Comma-separated capability list")
	return cmd
}

func newBotListCommand() *cobra.Command {
	var (
		status     string
		capability string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bots",
		Example: `  clawctl bot list
  clawctl bot list --status=online --capability=fetch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if capability != "" {
				params.Set("capability", capability)
			}
			client := newClient()
			data, err := client.get("/api/v1/bots", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (offline, online, busy)")
	cmd.Flags().StringVarP(&capability, "capability", "c", "", "Filter by capability")
	return cmd
}

func newBotGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <bot-id>",
		Short: "Show bot details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get(fmt.Sprintf("/api/v1/bots/%s", args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newBotRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <bot-id>",
		Short:   "Deregister a bot",
		Args:    cobra.ExactArgs(1),
		Aliases: []string{"remove", "delete"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.delete(fmt.Sprintf("/api/v1/bots/%s", args[0]), nil); err != nil {
				return err
			}
			fmt.Printf("bot %s deregistered\n", args[0])
			return nil
		},
	}
}
