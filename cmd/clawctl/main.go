package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	serverURL string
	apiKey    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clawctl",
		Short: "Clawbot CLI - interact with a coordinator",
		Long: `clawctl is a command-line interface for the clawbot coordinator.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer(), "Coordinator URL")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "k", os.Getenv("CLAWBOT_API_KEY"), "Operator API key")

	rootCmd.AddCommand(newBotCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newBroadcastCommand())
	rootCmd.AddCommand(newKeyCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServer() string {
	if server := os.Getenv("CLAWBOT_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

func (c *Client) delete(path string, params url.Values) ([]byte, error) {
	return c.do("DELETE", path, params, nil)
}

// outputJSON pretty-prints raw JSON data.
func outputJSON(data []byte) {
	if len(data) == 0 {
		return
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- Status, logs, broadcast ---

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator health and connection counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/api/v1/health", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newLogsCommand() *cobra.Command {
	var (
		limit  int
		source string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail recent coordinator logs",
		Example: `  clawctl logs
  clawctl logs --limit=50 --source=Sweeper`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			params := url.Values{}
			params.Set("limit", fmt.Sprintf("%d", limit))
			if source != "" {
				params.Set("source", source)
			}
			data, err := client.get("/api/v1/logs", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Number of entries")
	cmd.Flags().StringVar(&source, "source", "", "Filter by component (Coordinator, Hub, Sweeper, API)")
	return cmd
}

func newBroadcastCommand() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:     "broadcast <frame-type>",
		Short:   "Broadcast a frame to every connected bot",
		Args:    cobra.ExactArgs(1),
		Example: `  clawctl broadcast heartbeat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"type": args[0]}
			if payload != "" {
				var p map[string]interface{}
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
				body["payload"] = p
			}
			client := newClient()
			data, err := client.post("/api/v1/ws/broadcast", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Frame payload as JSON")
	return cmd
}
