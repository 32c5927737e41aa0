package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/specix/am"
	"github.com/teranos/specix/errors"
	"gopkg.in/yaml.v3"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage specix configuration",
	Long: `am - Manage specix configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (SPECIX_* prefix, e.g. SPECIX_FETCH_MAX_BYTES)
3. Project config (./am.toml, searched upward)
4. User config (~/.specix/am.toml)
5. System config (/etc/specix/am.toml)
6. Default values

Examples:
  specix am show                    # Show current configuration
  specix am show --format json      # Show configuration in JSON format
  specix am show --sources          # Show where each value came from
  specix am get fetch.max_bytes     # Get specific config value
  specix am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective specix configuration merged from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., fetch.max_bytes, server.port)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var (
	configFormat  string
	configSources bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&configSources, "sources", false, "Show the source of every setting")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if configSources {
		return renderSources(cmd.OutOrStdout(), am.Introspect())
	}
	return renderSettings(cmd.OutOrStdout(), configFormat, am.GetViper().AllSettings())
}

// renderSettings writes the nested settings map in the requested format
func renderSettings(w io.Writer, format string, settings map[string]interface{}) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		_, err = fmt.Fprintf(w, "# specix configuration\n%s", data)
		return err

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		_, err = fmt.Fprintf(w, "# specix configuration\n%s", data)
		return err

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func renderSources(w io.Writer, settings []am.SettingInfo) error {
	rows := pterm.TableData{{"Key", "Value", "Source"}}
	for _, s := range settings {
		source := string(s.Source)
		if s.SourcePath != "" {
			source += " (" + s.SourcePath + ")"
		}
		rows = append(rows, []string{s.Key, fmt.Sprintf("%v", s.Value), source})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render settings table")
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	key := args[0]
	if !am.GetViper().IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}
