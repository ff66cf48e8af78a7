package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var urlCmd = &cobra.Command{
	Use:   "url",
	Short: "Inspect webhook URLs",
}

var urlCheckCmd = &cobra.Command{
	Use:   "check [url]",
	Short: "Check whether a URL would be accepted as a webhook",
	Long: `Ask the server whether a URL passes its webhook URL guard.
The command fails when the URL is rejected.

Example:
  taskhookctl url check https://169.254.169.254/latest`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res struct {
			URL     string `json:"url"`
			Allowed bool   `json:"allowed"`
		}
		if err := callAPI("POST", "/v1/urlcheck", map[string]string{"url": args[0]}, &res); err != nil {
			return fmt.Errorf("url check failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, res)
		} else if res.Allowed {
			fmt.Fprintf(out, "✓ %s is allowed\n", res.URL)
		} else {
			fmt.Fprintf(out, "✗ %s is blocked\n", res.URL)
		}
		if !res.Allowed {
			return fmt.Errorf("url %s is blocked", res.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(urlCmd)
	urlCmd.AddCommand(urlCheckCmd)
}
