package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/benaskins/streamctl/internal/driver"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/relay"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
)

var interpretersCmd = &cobra.Command{
	Use:   "interpreters",
	Short: "List Python interpreters that can run the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if test, _ := cmd.Flags().GetString("test"); cmd.Flags().Changed("test") {
			var result struct {
				Command string `json:"command"`
				Version string `json:"version"`
			}
			if err := apiPost("/v1/interpreters/test", map[string]string{"command": test}, &result); err != nil {
				return err
			}
			fmt.Printf("%s: Python %s\n", result.Command, result.Version)
			return nil
		}

		var found []driver.Interpreter
		if err := apiGet("/v1/interpreters", &found); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(found)
		}
		if len(found) == 0 {
			fmt.Println("No supported interpreters found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tCOMMAND")
		for _, in := range found {
			fmt.Fprintf(w, "%s\t%s\n", in.Version, in.Command)
		}
		w.Flush()
		return nil
	},
}

var liveCmd = &cobra.Command{
	Use:   "live <platform> <channel>",
	Short: "Look up the current live stream of a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("channel", args[1])

		var stream platform.Stream
		if err := apiGet(fmt.Sprintf("/v1/streams/%s/live?%s", args[0], q.Encode()), &stream); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(stream)
		}
		fmt.Println(stream.ID)
		if stream.Title != "" {
			fmt.Fprintln(os.Stderr, stream.Title)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow daemon events",
	Long:  "Stream process output, exits and OAuth updates as they happen. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path := "ws://streamctl/v1/events"
		if topic != "" {
			path += "?" + url.Values{"topic": {topic}}.Encode()
		}

		// The websocket library bounds the dial with ctx and rejects a
		// client-level timeout.
		client := apiClient()
		client.Timeout = 0

		conn, _, err := websocket.Dial(ctx, path, &websocket.DialOptions{HTTPClient: client})
		if err != nil {
			return fmt.Errorf("connecting to daemon: %w (is streamctl daemon running?)", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		raw := jsonOutput(cmd)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return err
			}
			if raw {
				fmt.Println(string(data))
				continue
			}
			printEvent(data)
		}
	},
}

func printEvent(data []byte) {
	var ev struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Fprintln(os.Stderr, "bad event:", err)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		fmt.Printf("%s %s\n", ev.Topic, ev.Payload)
		return
	}

	switch ev.Topic {
	case relay.TopicProcessOutput:
		fmt.Print(fields["text"])
	case relay.TopicProcessError:
		fmt.Fprintf(os.Stderr, "[%v] %v", fields["source"], fields["text"])
	default:
		fmt.Printf("%s %s\n", ev.Topic, ev.Payload)
	}
}

func init() {
	interpretersCmd.Flags().String("test", "", "test a specific interpreter command instead of listing")
	eventsCmd.Flags().String("topic", "", "comma-separated topics to follow")

	rootCmd.AddCommand(interpretersCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(eventsCmd)
}
