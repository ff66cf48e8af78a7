package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/austindbirch/taskhook/internal/model"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var createProjectCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project",
	Long: `Create a project that tasks can be added to.

Example:
  taskhookctl project create "Website relaunch"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p model.Project
		if err := callAPI("POST", "/v1/projects", map[string]string{"name": args[0]}, &p); err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, p)
			return nil
		}
		fmt.Fprintf(out, "Created project: %s\n", p.ID)
		fmt.Fprintf(out, "  Name: %s\n", p.Name)
		return nil
	},
}

var getProjectCmd = &cobra.Command{
	Use:   "get [project-id]",
	Short: "Show a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p model.Project
		if err := callAPI("GET", "/v1/projects/"+url.PathEscape(args[0]), nil, &p); err != nil {
			return fmt.Errorf("failed to get project: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, p)
			return nil
		}
		fmt.Fprintf(out, "Project %s\n", p.ID)
		fmt.Fprintf(out, "  Name: %s\n", p.Name)
		fmt.Fprintf(out, "  Created: %s\n", formatTime(&p.CreatedAt))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(createProjectCmd)
	projectCmd.AddCommand(getProjectCmd)
}
