package commands

import (
	"fmt"

	"github.com/teranos/specix/am"
	"github.com/teranos/specix/logger"
	"github.com/teranos/specix/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *am.Config, verbosity int, configFile string) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════╗\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ║   specix  ·  OpenAPI ingestion        ║\n")
	fmt.Printf("   ║   probe → fetch → validate → build    ║\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ specix Info ───────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Listen:    http://%s\n", green, reset, cfg.Addr())
	fmt.Printf("%s│%s Max bytes: %d\n", green, reset, cfg.Fetch.MaxBytes)
	fmt.Printf("%s│%s Timeout:   %s\n", green, reset, cfg.Timeout())
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if configFile != "" {
		fmt.Printf("%s│%s Config:    %s (watched)\n", green, reset, configFile)
	}
	if cfg.Fetch.AllowHTTP {
		fmt.Printf("%s│%s %sPlain HTTP upstreams allowed%s\n", green, reset, yellow, reset)
	}
	fmt.Printf("%s└─────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
