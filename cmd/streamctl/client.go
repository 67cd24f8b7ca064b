package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/benaskins/streamctl/internal/logbuf"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/supervisor"
	"github.com/spf13/cobra"
)

const apiBase = "http://streamctl"

func apiClient() *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// apiDo sends a request to the daemon and decodes a JSON response into v
// when v is non-nil.
func apiDo(client *http.Client, method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is streamctl daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API error %d: %s", resp.StatusCode, data)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiGet(path string, v any) error {
	return apiDo(apiClient(), http.MethodGet, path, nil, v)
}

func apiPost(path string, body, v any) error {
	return apiDo(apiClient(), http.MethodPost, path, body, v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

// authStatus is the daemon's view of one platform connection.
type authStatus struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Username string `json:"username"`
	Pending  *struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"pending,omitempty"`
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend and connection status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info supervisor.HandleInfo
		if err := apiGet("/v1/process", &info); err != nil {
			return err
		}

		var conns []authStatus
		for _, name := range platform.Names {
			var st authStatus
			if err := apiGet("/v1/oauth/"+name+"/status", &st); err != nil {
				return err
			}
			conns = append(conns, st)
		}

		if jsonOutput(cmd) {
			return printJSON(map[string]any{"process": info, "connections": conns})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tPID\tUPTIME\tLAUNCH")
		pid, uptime, launch := "-", "-", "-"
		if info.PID > 0 {
			pid = strconv.Itoa(info.PID)
		}
		if info.Uptime != "" {
			uptime = info.Uptime
		}
		if info.Launch != nil {
			launch = info.Launch.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.State, pid, uptime, launch)
		w.Flush()

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PLATFORM\tSTATUS\tUSER")
		for _, c := range conns {
			user := c.Username
			if user == "" {
				user = "-"
			}
			status := c.Status
			if c.Pending != nil {
				status += " (authorizing)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Platform, status, user)
		}
		w.Flush()
		return nil
	},
}

// start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the streamer backend",
	Long:  "Start the backend with the given launch settings. With no flags the last successful launch is reused.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body any
		if anyLaunchFlag(cmd) {
			launch := supervisor.LaunchConfig{}
			launch.Platform, _ = cmd.Flags().GetString("platform")
			launch.StreamID, _ = cmd.Flags().GetString("stream-id")
			launch.TTSType, _ = cmd.Flags().GetString("tts")
			launch.AIProvider, _ = cmd.Flags().GetString("ai")
			body = launch
		}

		// Dependency installs can run for minutes before the reply.
		client := apiClient()
		client.Timeout = 10 * time.Minute

		var result struct {
			Status string                  `json:"status"`
			Launch supervisor.LaunchConfig `json:"launch"`
		}
		if err := apiDo(client, http.MethodPost, "/v1/process/start", body, &result); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(result)
		}
		fmt.Printf("%s: %s\n", result.Status, result.Launch.String())
		return nil
	},
}

func anyLaunchFlag(cmd *cobra.Command) bool {
	for _, name := range []string{"platform", "stream-id", "tts", "ai"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the streamer backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]string
		if err := apiPost("/v1/process/stop", nil, &result); err != nil {
			return err
		}
		fmt.Println(result["status"])
		return nil
	},
}

// reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon config",
	Long:  "Re-read config.yaml and apply interpreter and OAuth provider settings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]string
		if err := apiPost("/v1/reload", nil, &result); err != nil {
			return err
		}
		fmt.Println(result["status"])
		return nil
	},
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent backend console output",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		stream, _ := cmd.Flags().GetString("stream")

		q := url.Values{}
		q.Set("n", strconv.Itoa(n))
		if stream != "" {
			q.Set("stream", stream)
		}

		var lines []logbuf.Line
		if err := apiGet("/v1/process/logs?"+q.Encode(), &lines); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(lines)
		}
		for _, line := range lines {
			if line.Stream == logbuf.StreamOutput {
				fmt.Println(line.Text)
				continue
			}
			fmt.Printf("[%s] %s\n", line.Stream, line.Text)
		}
		return nil
	},
}

func init() {
	startCmd.Flags().String("platform", "", "streaming platform (youtube or twitch)")
	startCmd.Flags().String("stream-id", "", "stream or channel id to attach to")
	startCmd.Flags().String("tts", "", "text-to-speech engine")
	startCmd.Flags().String("ai", "", "AI provider")
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")
	logsCmd.Flags().String("stream", "", "comma-separated streams to show (output, error, system)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(logsCmd)
}
