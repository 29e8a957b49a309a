package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"deepguard/internal/registry"
)

func newModelsCmd(opts *globalOpts, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered detection models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Provider.RegistryPath)
			if err != nil {
				return err
			}
			for _, d := range reg.Descriptors() {
				marker := ""
				if d.ID == reg.DefaultID() {
					marker = " (default)"
				}
				fmt.Fprintf(stdout, "%s\t%s%s\n", d.ID, d.Version, marker)
			}
			return nil
		},
	}
}
