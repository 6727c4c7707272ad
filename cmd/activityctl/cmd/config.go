package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/austindbirch/activitylogger/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect activity logger configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the effective configuration with credentials masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := cfg.Redacted()
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), redacted)
		}
		return writeYAML(cmd.OutOrStdout(), redacted)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file populated with defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "activitylogger.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create config file: %w", err)
		}
		defer f.Close()
		if err := writeYAML(f, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and report delivery problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := loadConfig()
		if err != nil {
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				for field, msg := range verr.Fields {
					fmt.Fprintf(out, "  invalid %s: %s\n", field, msg)
				}
			}
			return err
		}

		warnings := configWarnings(cfg)
		fmt.Fprintln(out, "Configuration check:")
		fmt.Fprintf(out, "  enabled: %v\n", cfg.Delivery.Enabled)
		fmt.Fprintf(out, "  endpoint: %s\n", orNone(cfg.Delivery.Endpoint))
		fmt.Fprintf(out, "  queue: %s/%s\n", cfg.Delivery.Queue.Connection, cfg.Delivery.Queue.Name)
		for _, w := range warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		if len(warnings) == 0 {
			fmt.Fprintln(out, "  OK")
		}
		return nil
	},
}

// configWarnings lists settings that load cleanly but will not deliver.
func configWarnings(cfg config.Config) []string {
	var out []string
	d := cfg.Delivery
	if !d.Enabled {
		out = append(out, "activity logging is disabled")
	}
	if d.Endpoint == "" {
		out = append(out, "endpoint is not set, every job will be skipped")
	}
	switch d.Auth.Type {
	case config.AuthToken:
		if d.Auth.Token == "" {
			out = append(out, "auth.type is token but no token is set")
		}
	case config.AuthBasic:
		if d.Auth.Username == "" || d.Auth.Password == "" {
			out = append(out, "auth.type is basic but username or password is empty")
		}
	}
	if d.Queue.Connection == config.ConnectionMemory {
		out = append(out, "memory queue loses pending jobs on exit")
	}
	if !d.HTTP.Verify {
		out = append(out, "TLS verification is disabled")
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
