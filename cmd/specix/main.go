package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/specix/am"
	"github.com/teranos/specix/cmd/specix/commands"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/logger"
)

var rootCmd = &cobra.Command{
	Use:   "specix",
	Short: "specix - safe OpenAPI document ingestion",
	Long: `specix - fetch, bound and validate remote OpenAPI 3.x documents.

Every URL passes an SSRF admission check, a HEAD size probe, a
byte-capped streaming download and structural validation before
anything downstream sees it.

Available commands:
  ingest  - Fetch and validate one document
  serve   - Start the HTTP API and build tracker
  am      - Show and validate configuration ("I am")
  version - Show build information

Examples:
  specix ingest https://petstore3.swagger.io/api/v3/openapi.json
  specix ingest --format json --max-bytes 1048576 https://example.com/openapi.yaml
  specix serve -v
  specix am show --sources`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		// A broken config is reported by the command that needs it
		if cfg, err := am.Load(); err == nil {
			jsonLogs = jsonLogs || cfg.Log.JSON
			logger.SetTheme(cfg.Log.Theme)
		}

		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, commands.FormatError(err))
		os.Exit(1)
	}
}
