package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

type promptBody struct {
	Prompt string `json:"prompt"`
	Path   string `json:"path,omitempty"`
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show the backend's persona prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		var p promptBody
		if err := apiGet("/v1/prompt", &p); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(p)
		}
		fmt.Print(p.Prompt)
		return nil
	},
}

var promptSetCmd = &cobra.Command{
	Use:   "set [file]",
	Short: "Replace the persona prompt",
	Long:  "Replace the persona prompt with the contents of file, or stdin if file is omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}

		var result map[string]string
		if err := apiDo(apiClient(), http.MethodPut, "/v1/prompt", promptBody{Prompt: string(data)}, &result); err != nil {
			return err
		}
		fmt.Printf("Prompt saved to %s\n", result["path"])
		return nil
	},
}

func init() {
	promptCmd.AddCommand(promptSetCmd)
	rootCmd.AddCommand(promptCmd)
}
