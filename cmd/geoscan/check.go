package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabbageseo/geo-scanner/internal/monitoring"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Send one probe question to every configured platform",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.CallTimeout+cfg.RetryBackoff)
	defer cancel()

	service := monitoring.NewService(cfg, nil, nil, nil, nil)
	results := service.CheckPlatforms(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Platform connectivity")
	fmt.Fprintln(out, strings.Repeat("-", 40))

	failed := printChecks(cmd, results)

	if failed == len(results) {
		return fmt.Errorf("no platform answered")
	}
	return nil
}

// printChecks writes one line per platform and returns how many failed
func printChecks(cmd *cobra.Command, results []monitoring.CheckResult) int {
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		switch {
		case !r.Enabled:
			fmt.Fprintf(out, "%-12s DISABLED (missing API key)\n", r.Platform)
			failed++
		case r.Err != nil:
			fmt.Fprintf(out, "%-12s ERROR %v\n", r.Platform, r.Err)
			failed++
		default:
			fmt.Fprintf(out, "%-12s OK in %v (%d citations)\n", r.Platform, r.Latency.Round(time.Millisecond), r.Citations)
		}
	}
	return failed
}
