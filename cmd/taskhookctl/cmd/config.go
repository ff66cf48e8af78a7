package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFileName = ".taskhookctl.yaml"

var configKeys = []string{"server", "timeout", "tls", "json", "pretty", "token"}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage taskhookctl configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, map[string]interface{}{
				"server":  viper.GetString("server"),
				"timeout": viper.GetDuration("timeout").String(),
				"tls":     viper.GetBool("tls"),
				"json":    viper.GetBool("json"),
				"pretty":  viper.GetBool("pretty"),
			})
			return
		}

		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Server: %s\n", viper.GetString("server"))
		fmt.Fprintf(out, "  Timeout: %s\n", viper.GetDuration("timeout"))
		fmt.Fprintf(out, "  TLS: %v\n", viper.GetBool("tls"))
		fmt.Fprintf(out, "  JSON Output: %v\n", viper.GetBool("json"))
		fmt.Fprintf(out, "  Pretty JSON: %v\n", viper.GetBool("pretty"))
		if viper.GetString("token") != "" {
			fmt.Fprintln(out, "  Token: (set)")
		}
		if viper.GetBool("pretty") && !checkJQAvailable() {
			fmt.Fprintln(out, "  ⚠️  Warning: pretty=true but jq not found in PATH")
		}
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(out, "  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(out, "  Config file: none (using defaults)")
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  taskhookctl config set server localhost:8080
  taskhookctl config set timeout 60s
  taskhookctl config set tls true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		parsed, err := parseConfigValue(key, value)
		if err != nil {
			return err
		}
		viper.Set(key, parsed)

		path, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}

		if _, err := os.Stat(path); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
		}

		viper.Set("server", "localhost:8080")
		viper.Set("timeout", "30s")
		viper.Set("tls", false)
		viper.Set("json", false)
		viper.Set("pretty", false)

		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

// parseConfigValue validates key and converts value to the type stored
// in the config file
func parseConfigValue(key, value string) (interface{}, error) {
	switch key {
	case "tls", "json", "pretty":
		switch value {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for timeout: %w", err)
		}
		return d.String(), nil
	case "server", "token":
		return value, nil
	}
	return nil, fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, configKeys)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configFileName), nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
