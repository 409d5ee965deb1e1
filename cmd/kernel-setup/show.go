package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gitlab.com/timecraftjs/kernel-setup/internal/config"
	"gitlab.com/timecraftjs/kernel-setup/internal/inject"
)

func newShowCmd(o *options, cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the kernel_paths declaration currently in each target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			fs, err := workFs(o.hostFs, c.BaseDir)
			if err != nil {
				return err
			}
			for _, t := range c.Targets {
				line, err := inject.FirstLine(fs, t.Path)
				if err != nil {
					return err
				}
				fmt.Fprintf(o.stdout, "%s: %s\n", t.Path, line)
			}
			return nil
		},
	}
}
