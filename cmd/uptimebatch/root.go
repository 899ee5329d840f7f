package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimebatch/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	rootCmd = &cobra.Command{
		Use:   "uptimebatch",
		Short: "Batch uptime monitor",
		Long: `uptimebatch probes a list of URLs on a fixed interval, posts one summary
per run to a callback receiver and keeps itself running across restarts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile)
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd, checkCmd, addCmd, preflightCmd)
}
