package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimebatch/internal/config"
	"github.com/hamed0406/uptimebatch/internal/domain"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Validate the environment before deploying",
	RunE: func(cmd *cobra.Command, args []string) error {
		if failed := preflight(config.FromEnv(), os.Stdout, os.Stderr); failed > 0 {
			return fmt.Errorf("preflight failed with %d problem(s)", failed)
		}
		return nil
	},
}

// preflight prints one line per check and returns how many checks failed.
func preflight(cfg config.Config, out, errOut io.Writer) (failed int) {
	fail := func(msg string) {
		fmt.Fprintln(errOut, "✖", msg)
		failed++
	}
	warn := func(msg string) { fmt.Fprintln(errOut, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(out, "✔", msg) }

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (admin routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		fail("PUBLIC_API_KEYS is empty (read routes are open).")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": os.Getenv("ADMIN_API_KEYS"), "PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS")} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	switch scheme := storeScheme(cfg.StoreURL); scheme {
	case "":
		warn("STORE_URL empty; state goes to the local sqlite file.")
	case "memory":
		warn("STORE_URL=memory:// keeps state only until the process exits.")
	case "sqlite", "postgres", "postgresql", "s3":
		ok("STORE_URL scheme " + scheme)
	default:
		fail("STORE_URL scheme " + scheme + " is not supported.")
	}

	switch {
	case cfg.ReceiverURL == "":
		warn("RECEIVER_URL empty; runs are not posted anywhere until a receiver is set.")
	case !domain.ValidHTTPURL(cfg.ReceiverURL):
		fail("RECEIVER_URL is not an http(s) URL.")
	default:
		ok("RECEIVER_URL present")
	}

	if cfg.SourceURL != "" && !domain.ValidHTTPURL(cfg.SourceURL) {
		fail("SOURCE_URL is not an http(s) URL.")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; any origin may call the API from a browser.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if failed == 0 {
		ok("preflight passed")
	}
	return failed
}

func storeScheme(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "invalid"
	}
	return u.Scheme
}
