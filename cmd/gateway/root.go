package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Admission gateway (rate limit + CSRF) for the essay-marking app",
	Long: `gateway sits in front of the essay-marking web app and admits requests:

  1. resolves the session with the identity provider (optional)
  2. stamps security headers
  3. applies the sliding-window rate limit of the endpoint class
  4. validates the CSRF double-submit token on /api/ mutations

Configuration comes from an optional YAML file (--config) overridden by
environment variables (LISTEN_ADDR, UPSTREAM_URL, STORE_BACKEND, ...).

  gateway serve                 # start the proxy (default)
  gateway rules POST /api/tts   # show class, limit and key for a request`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional, env only when empty)")
}
