package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"deepguard/internal/probe"
)

func newProbeCmd(opts *globalOpts, stdout, stderr io.Writer) *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether the inference provider is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p := probe.Prober{URL: url, Timeout: timeout}
			if p.URL == "" {
				// The provider token only goes to the configured endpoint.
				p.URL = cfg.Probe.URL
				p.Token = cfg.Provider.APIToken
			}
			if p.Timeout <= 0 {
				p.Timeout = cfg.Probe.Timeout
			}
			url = p.URL
			if !p.Available(cmd.Context()) {
				fmt.Fprintf(stderr, "%s: unavailable\n", url)
				return errExit
			}
			fmt.Fprintf(stdout, "%s: available\n", url)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to probe (defaults to probe.url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Probe timeout (defaults to probe.timeout)")
	return cmd
}
