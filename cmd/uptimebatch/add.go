package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

var (
	addAPI string
	addKey string

	addCmd = &cobra.Command{
		Use:   "add <url>",
		Short: "Add a target through a running serve instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := addTarget(addAPI, addKey, withScheme(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (id %s). It is checked on the next run.\n", t.URL, t.ID)
			return nil
		},
	}
)

func init() {
	addCmd.Flags().StringVar(&addAPI, "api", envOr("API_BASE", "http://localhost:8080"), "base URL of the control API")
	addCmd.Flags().StringVar(&addKey, "key", firstKey(os.Getenv("ADMIN_API_KEYS")), "admin API key")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstKey(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}

func addTarget(api, key, raw string) (domain.Target, error) {
	var t domain.Target
	if !domain.ValidHTTPURL(raw) {
		return t, fmt.Errorf("%q: %w", raw, domain.ErrInvalidURL)
	}
	body, _ := json.Marshal(map[string]string{"url": raw})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(api, "/")+"/api/targets", bytes.NewReader(body))
	if err != nil {
		return t, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	c := cleanhttp.DefaultClient()
	c.Timeout = 10 * time.Second
	resp, err := c.Do(req)
	if err != nil {
		return t, fmt.Errorf("contact API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return t, fmt.Errorf("API returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return t, fmt.Errorf("decode response: %w", err)
	}
	return t, nil
}
