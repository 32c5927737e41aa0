package logger

// Output controls what categories of information the CLI shows at each
// verbosity level. Log levels filter by severity; categories filter by kind.
//
//	0 (default) - result summary and errors with hints
//	1 (-v)      - + progress, startup banner
//	2 (-vv)     - + timing, config loaded, outbound HTTP calls
//	3 (-vvv)    - + response headers of the probe and fetch
//	4 (-vvvv)   - + the parsed document dump

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	OutputResults OutputCategory = iota // Ingest result summary
	OutputErrors                        // Errors with hints

	OutputProgress // Stage progress (probe, download, validate)
	OutputStartup  // Server banner, config summary

	OutputTiming    // Per-stage duration
	OutputConfig    // Config values loaded/applied
	OutputHTTPCalls // Outbound HEAD/GET requests

	OutputHeaders // Upstream response headers

	OutputDocument // Full document dump
)

// VerbosityAll enables every category
const VerbosityAll = 4

var categoryLevels = map[OutputCategory]int{
	OutputResults:   VerbosityUser,
	OutputErrors:    VerbosityUser,
	OutputProgress:  VerbosityInfo,
	OutputStartup:   VerbosityInfo,
	OutputTiming:    VerbosityDebug,
	OutputConfig:    VerbosityDebug,
	OutputHTTPCalls: VerbosityDebug,
	OutputHeaders:   VerbosityTrace,
	OutputDocument:  VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

var categoryNames = map[OutputCategory]string{
	OutputResults:   "results",
	OutputErrors:    "errors",
	OutputProgress:  "progress",
	OutputStartup:   "startup",
	OutputTiming:    "timing",
	OutputConfig:    "config",
	OutputHTTPCalls: "http",
	OutputHeaders:   "headers",
	OutputDocument:  "document",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}
