package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage reel configuration",
	Long: sym.AM + ` am — Manage reel configuration

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/reel/am.toml)
3. User config (~/.reel/am.toml)
4. Project config (./am.toml, searched up the directory tree)
5. .env in the working directory
6. Environment variables (REEL_* prefix, plus OPENROUTER_API_KEY and friends)

Examples:
  reel am show                    # Show current configuration
  reel am show --format json      # Show configuration in JSON format
  reel am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		return writeConfig(cmd.OutOrStdout(), cfg.Redacted(), configFormat)
	},
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long: `Validate the merged configuration and report keys in the active
am.toml that reel does not recognise.`,
	RunE: runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func writeConfig(w io.Writer, cfg am.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal config to %s", format)
	}
	if format != "json" {
		fmt.Fprintln(w, "# reel configuration")
	}
	_, err = w.Write(data)
	return err
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if path := am.ActiveConfigPath(); path != "" {
		unknown, err := am.UnknownKeys(path)
		if err != nil {
			return err
		}
		for _, key := range unknown {
			fmt.Fprintf(out, "⚠ unknown key %q in %s\n", key, path)
		}
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}
