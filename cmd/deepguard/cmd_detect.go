package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"deepguard/internal/app"
)

func newDetectCmd(opts *globalOpts, stdout io.Writer) *cobra.Command {
	var modelID string
	cmd := &cobra.Command{
		Use:   "detect <media-url>",
		Short: "Run one detection and print the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Detector.Detect(ctx, args[0], modelID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			if isTerminal(stdout) {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "", "Model id (defaults to the registry default)")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
