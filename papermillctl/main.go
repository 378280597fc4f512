// Command papermillctl is the operator CLI for a running coordinator.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:          "papermillctl",
		Short:        "Operator CLI for the papermill coordinator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server",
		envDefault("PAPERMILL_SERVER", "http://localhost:8080"),
		"coordinator base URL")

	root.AddCommand(nodesCmd(), statsCmd(), pauseCmd(), resumeCmd(), timelineCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List registered nodes and their admission state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nodes []struct {
				Node struct {
					ID             string   `json:"id"`
					Address        string   `json:"address"`
					Capabilities   []string `json:"capabilities"`
					MaxConcurrency int      `json:"max_concurrency"`
				} `json:"node"`
				Health   string `json:"health"`
				Admitted int    `json:"admitted"`
				Inflight int    `json:"inflight"`
			}
			if err := getJSON("/v1/nodes", &nodes); err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Println("no nodes registered")
				return nil
			}
			fmt.Printf("%-38s %-22s %-12s %9s %9s  %s\n",
				"NODE", "ADDRESS", "HEALTH", "ADMITTED", "INFLIGHT", "CAPABILITIES")
			for _, n := range nodes {
				fmt.Printf("%-38s %-22s %-12s %9d %9d  %s\n",
					n.Node.ID, n.Node.Address, n.Health, n.Admitted, n.Inflight,
					strings.Join(n.Node.Capabilities, ","))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline throughput and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]interface{}
			if err := getJSON("/v1/stats", &stats); err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop dispatching new documents (in-flight work finishes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postJSON("/v1/pipeline/pause"); err != nil {
				return err
			}
			fmt.Println("pipeline paused")
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatching",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postJSON("/v1/pipeline/resume"); err != nil {
				return err
			}
			fmt.Println("pipeline resumed")
			return nil
		},
	}
}

func timelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <document-id>",
		Short: "Show the stage-by-stage history of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var events []struct {
				Stage     string            `json:"stage"`
				NodeID    string            `json:"node_id"`
				Timestamp time.Time         `json:"timestamp"`
				Metadata  map[string]string `json:"metadata"`
			}
			if err := getJSON("/v1/documents/"+args[0]+"/timeline", &events); err != nil {
				return err
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-22s", e.Timestamp.Format(time.RFC3339), e.Stage)
				if e.NodeID != "" {
					line += "  node=" + e.NodeID
				}
				for k, v := range e.Metadata {
					line += fmt.Sprintf("  %s=%s", k, v)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(path string, out interface{}) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string) error {
	resp, err := httpClient.Post(serverURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
