package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/taskhook/internal/model"
)

// webhookCmd represents the webhook command
var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage webhooks",
	Long: `Register, update and test the HTTPS endpoints notified about task events.

Webhook URLs must be https and must not point at loopback, private or
cloud metadata addresses.`,
}

var createWebhookCmd = &cobra.Command{
	Use:   "create [name] [url]",
	Short: "Register a webhook",
	Long: `Register a webhook for one or more event types.

Example:
  taskhookctl webhook create team-chat https://hooks.example.com/T000/B000 --events task.created,task.completed`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetStringSlice("events")
		secret, _ := cmd.Flags().GetString("secret")
		inactive, _ := cmd.Flags().GetBool("inactive")

		req := map[string]interface{}{
			"name":   args[0],
			"url":    args[1],
			"events": events,
			"active": !inactive,
		}
		if secret != "" {
			req["secret"] = secret
		}

		var hook model.Webhook
		if err := callAPI("POST", "/v1/webhooks", req, &hook); err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, hook)
			return nil
		}
		fmt.Fprintf(out, "Created webhook: %s\n", hook.ID)
		printWebhook(out, hook)
		return nil
	},
}

var listWebhooksCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []model.Webhook
		if err := callAPI("GET", "/v1/webhooks", nil, &list); err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, list)
			return nil
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No webhooks registered")
			return nil
		}
		for _, h := range list {
			state := "active"
			if !h.Active {
				state = "inactive"
			}
			fmt.Fprintf(out, "%s  %-8s %-20s %s  [%s]\n", h.ID, state, h.Name, h.URL, strings.Join(h.Events, ","))
		}
		return nil
	},
}

var getWebhookCmd = &cobra.Command{
	Use:   "get [webhook-id]",
	Short: "Show a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var hook model.Webhook
		if err := callAPI("GET", "/v1/webhooks/"+url.PathEscape(args[0]), nil, &hook); err != nil {
			return fmt.Errorf("failed to get webhook: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, hook)
			return nil
		}
		fmt.Fprintf(out, "Webhook %s\n", hook.ID)
		printWebhook(out, hook)
		return nil
	},
}

var updateWebhookCmd = &cobra.Command{
	Use:   "update [webhook-id]",
	Short: "Update a webhook",
	Long: `Update a webhook. Only the flags given are changed.

Example:
  taskhookctl webhook update wh_123 --active=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{}
		flags := cmd.Flags()
		if flags.Changed("name") {
			req["name"], _ = flags.GetString("name")
		}
		if flags.Changed("url") {
			req["url"], _ = flags.GetString("url")
		}
		if flags.Changed("events") {
			req["events"], _ = flags.GetStringSlice("events")
		}
		if flags.Changed("active") {
			req["active"], _ = flags.GetBool("active")
		}
		if flags.Changed("secret") {
			req["secret"], _ = flags.GetString("secret")
		}
		if len(req) == 0 {
			return fmt.Errorf("nothing to update: pass at least one of --name, --url, --events, --active, --secret")
		}

		var hook model.Webhook
		if err := callAPI("PUT", "/v1/webhooks/"+url.PathEscape(args[0]), req, &hook); err != nil {
			return fmt.Errorf("failed to update webhook: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, hook)
			return nil
		}
		fmt.Fprintf(out, "Updated webhook: %s\n", hook.ID)
		printWebhook(out, hook)
		return nil
	},
}

var deleteWebhookCmd = &cobra.Command{
	Use:   "delete [webhook-id]",
	Short: "Delete a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callAPI("DELETE", "/v1/webhooks/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted webhook: %s\n", args[0])
		return nil
	},
}

// testResult mirrors the body of POST /v1/webhooks/{id}/test
type testResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

var testWebhookCmd = &cobra.Command{
	Use:   "test [webhook-id]",
	Short: "Send a test notification",
	Long: `Send the fixed test message to a webhook, whether or not it is active.

Example:
  taskhookctl webhook test wh_123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res testResult
		if err := callAPI("POST", "/v1/webhooks/"+url.PathEscape(args[0])+"/test", nil, &res); err != nil {
			return fmt.Errorf("test notification failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, res)
			return nil
		}
		fmt.Fprintf(out, "✓ %s\n", res.Message)
		return nil
	},
}

func printWebhook(w io.Writer, h model.Webhook) {
	fmt.Fprintf(w, "  Name: %s\n", h.Name)
	fmt.Fprintf(w, "  URL: %s\n", h.URL)
	fmt.Fprintf(w, "  Events: %s\n", strings.Join(h.Events, ", "))
	fmt.Fprintf(w, "  Active: %v\n", h.Active)
	fmt.Fprintf(w, "  Last triggered: %s\n", formatTime(h.LastTriggered))
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(createWebhookCmd)
	webhookCmd.AddCommand(listWebhooksCmd)
	webhookCmd.AddCommand(getWebhookCmd)
	webhookCmd.AddCommand(updateWebhookCmd)
	webhookCmd.AddCommand(deleteWebhookCmd)
	webhookCmd.AddCommand(testWebhookCmd)

	createWebhookCmd.Flags().StringSlice("events", []string{model.EventTaskCompleted}, "event types to subscribe to")
	createWebhookCmd.Flags().String("secret", "", "secret stored with the webhook")
	createWebhookCmd.Flags().Bool("inactive", false, "register the webhook disabled")

	updateWebhookCmd.Flags().String("name", "", "new name")
	updateWebhookCmd.Flags().String("url", "", "new URL")
	updateWebhookCmd.Flags().StringSlice("events", nil, "new event types")
	updateWebhookCmd.Flags().Bool("active", true, "enable or disable delivery")
	updateWebhookCmd.Flags().String("secret", "", "new secret")
}
