package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
	"gopkg.in/yaml.v3"
)

var (
	ingestMaxBytes  int64
	ingestTimeout   time.Duration
	ingestAllowHTTP bool
	ingestFormat    string
	ingestKeep      bool
)

// IngestCmd fetches and validates a single document without starting a server
var IngestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Fetch and validate one OpenAPI document",
	Long: `Run the full ingestion pipeline against one URL and print a summary.

The URL is checked for scheme and host safety, probed with HEAD, streamed to
a temp file under the byte ceiling, then parsed and validated as OpenAPI 3.x.
The temp file is removed afterwards unless --keep is given.

Examples:
  specix ingest https://petstore3.swagger.io/api/v3/openapi.json
  specix ingest --format yaml --timeout 5s https://example.com/openapi.yaml
  specix ingest --allow-http --keep http://docs.internal.example.com/spec.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	IngestCmd.Flags().Int64Var(&ingestMaxBytes, "max-bytes", 0, "Byte ceiling for the document (default: fetch.max_bytes)")
	IngestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 0, "Per-request timeout (default: fetch.timeout_ms)")
	IngestCmd.Flags().BoolVar(&ingestAllowHTTP, "allow-http", false, "Accept plain http URLs")
	IngestCmd.Flags().StringVar(&ingestFormat, "format", "table", "Output format: table, json, yaml")
	IngestCmd.Flags().BoolVar(&ingestKeep, "keep", false, "Keep the downloaded file and print its path")
}

// IngestSummary is the printable outcome of one ingestion
type IngestSummary struct {
	URL        string            `json:"url" yaml:"url"`
	OpenAPI    string            `json:"openapi" yaml:"openapi"`
	Title      string            `json:"title" yaml:"title"`
	APIVersion string            `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	Paths      int               `json:"paths" yaml:"paths"`
	Operations int               `json:"operations" yaml:"operations"`
	Bytes      int64             `json:"bytes" yaml:"bytes"`
	Duration   string            `json:"duration" yaml:"duration"`
	File       string            `json:"file,omitempty" yaml:"file,omitempty"`
	Metadata   *openapi.Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	switch ingestFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", ingestFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := openapi.NewOsStore(cfg.Storage.TempDir)
	ing := newIngester(cfg, store)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spinner *pterm.SpinnerPrinter
	if ingestFormat == "table" {
		spinner, _ = pterm.DefaultSpinner.Start("Fetching " + args[0])
	}

	started := time.Now()
	result, err := ing.Ingest(ctx, args[0], openapi.Options{
		MaxBytes:            ingestMaxBytes,
		Timeout:             ingestTimeout,
		AllowInsecureScheme: ingestAllowHTTP,
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail("Ingestion failed")
		}
		return withIngestHint(ctx, err)
	}
	if !ingestKeep {
		defer ing.Release(result.FilePath)
	}
	if spinner != nil {
		spinner.Success("Document validated")
	}

	summary := summarize(result, time.Since(started))
	if !ingestKeep {
		summary.File = ""
	}
	return renderSummary(cmd.OutOrStdout(), ingestFormat, summary)
}

// summarize flattens a Result for display
func summarize(result *openapi.Result, elapsed time.Duration) IngestSummary {
	doc := result.Document
	s := IngestSummary{
		OpenAPI:    doc.OpenAPI,
		Title:      doc.Title(),
		Paths:      doc.PathCount(),
		Operations: doc.OperationCount(),
		Bytes:      result.BytesWritten,
		Duration:   elapsed.Round(time.Millisecond).String(),
		File:       result.FilePath,
		Metadata:   result.Metadata,
	}
	if result.Metadata != nil {
		s.URL = result.Metadata.URL
	}
	if doc.Info != nil {
		s.APIVersion = doc.Info.Version
	}
	return s
}

func renderSummary(w io.Writer, format string, s IngestSummary) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal summary to JSON")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		data, err := yaml.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "failed to marshal summary to YAML")
		}
		_, err = w.Write(data)
		return err

	default:
		rows := pterm.TableData{
			{"Field", "Value"},
			{"URL", s.URL},
			{"OpenAPI", s.OpenAPI},
			{"Title", s.Title},
			{"Version", s.APIVersion},
			{"Paths", strconv.Itoa(s.Paths)},
			{"Operations", strconv.Itoa(s.Operations)},
			{"Bytes", strconv.FormatInt(s.Bytes, 10)},
			{"Duration", s.Duration},
		}
		if s.Metadata != nil && s.Metadata.ETag != "" {
			rows = append(rows, []string{"ETag", s.Metadata.ETag})
		}
		if s.File != "" {
			rows = append(rows, []string{"File", s.File})
		}
		out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
		if err != nil {
			return errors.Wrap(err, "failed to render summary table")
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}
}

// withIngestHint attaches a remediation hint for the failure kinds a user can fix
func withIngestHint(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrap(err, "interrupted")
	}

	ingestErr, ok := openapi.AsError(err)
	if !ok {
		return err
	}

	wrapped := errors.Wrap(err, "ingest failed")
	switch ingestErr.Kind {
	case openapi.KindSizeExceeded:
		return errors.WithHintf(wrapped, "raise --max-bytes (currently %d) or fetch.max_bytes", ingestErr.MaxBytes)
	case openapi.KindInvalidURL:
		return errors.WithHint(wrapped, "only public https URLs are accepted; --allow-http permits plain http")
	case openapi.KindProbeFailed, openapi.KindDownloadFailed:
		if ingestErr.Timeout() {
			return errors.WithHint(wrapped, "raise --timeout or fetch.timeout_ms")
		}
	}
	return wrapped
}
