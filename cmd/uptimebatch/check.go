package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimebatch/internal/config"
	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/probe"
)

var (
	checkJSON bool

	checkCmd = &cobra.Command{
		Use:   "check <url>...",
		Short: "Probe URLs once and print the outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			down, err := runChecks(cmd.Context(), newChecker(config.FromEnv()), args, checkJSON)
			if err != nil {
				return err
			}
			if down > 0 {
				return fmt.Errorf("%d of %d targets inactive", down, len(args))
			}
			return nil
		},
	}
)

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print one JSON object per URL")
}

// withScheme lets "example.com" be typed without https://.
func withScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}

func runChecks(ctx context.Context, c probe.Checker, args []string, asJSON bool) (down int, err error) {
	enc := json.NewEncoder(os.Stdout)
	for _, a := range args {
		raw := withScheme(a)
		if !domain.ValidHTTPURL(raw) {
			return down, fmt.Errorf("%q: %w", a, domain.ErrInvalidURL)
		}
		url := domain.NormalizeHTTPURL(raw)
		res := c.Check(ctx, url)
		if !res.Success() {
			down++
		}
		if asJSON {
			if err := enc.Encode(map[string]any{"url": url, "result": res}); err != nil {
				return down, err
			}
			continue
		}
		line := fmt.Sprintf("%-8s %s  %.0fms", res.Status, url, res.LatencyMS)
		if res.StatusCode != 0 {
			line += fmt.Sprintf("  http=%d", res.StatusCode)
		}
		if res.ErrorKind != "" {
			line += fmt.Sprintf("  kind=%s", res.ErrorKind)
		}
		if res.Message != "" && !res.Success() {
			line += "  " + res.Message
		}
		fmt.Println(line)
	}
	return down, nil
}
