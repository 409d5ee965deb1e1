package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gitlab.com/timecraftjs/kernel-setup/internal/archive"
	"gitlab.com/timecraftjs/kernel-setup/internal/config"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist/multi"
	"gitlab.com/timecraftjs/kernel-setup/internal/misc"
)

func newBundleCmd(o *options, cfg **config.Config) *cobra.Command {
	var output, compression string
	var all bool

	cmd := &cobra.Command{
		Use:   "bundle [flags] [<source>...]",
		Short: "Pack the listed kernel files into a compressed cpio archive",
		Long: `Pack the kernel files listed by each <source> manifest, and with --all every
kernel in the kernels folder, into a single cpio archive.
Compression is given as format[:level], format being one of gzip, lzma,
lz4, zstd or none and level one of default, fast or best.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("bundle: at least one manifest or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if cmd.Flags().Changed("output") {
				c.Bundle.Output = output
			}
			if cmd.Flags().Changed("compression") {
				c.Bundle.Compression = compression
			}
			if all {
				args = append([]string{allSource}, args...)
			}
			return generateBundle(o, c, args)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include every kernel in the kernels folder")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive to write, relative to the base dir (default from config)")
	cmd.Flags().StringVarP(&compression, "compression", "c", "", "Compression as format[:level] (default from config)")

	return cmd
}

func generateBundle(o *options, cfg *config.Config, sources []string) error {
	log.Info().Str("output", cfg.Bundle.Output).Msg("== Generating kernel bundle ==")
	defer misc.TimeFunc(time.Now(), "bundle")

	fs, err := workFs(o.hostFs, cfg.BaseDir)
	if err != nil {
		return err
	}

	listers := make([]filelist.FileLister, 0, len(sources))
	for _, s := range sources {
		listers = append(listers, sourceLister(o, fs, cfg, s))
	}

	format, level := archive.ExtractFormatLevel(cfg.Bundle.Compression)
	a := archive.New(fs, format, level)
	if err := a.AddItems(multi.New(listers)); err != nil {
		return err
	}

	dest, err := hostPath(cfg.BaseDir, cfg.Bundle.Output)
	if err != nil {
		return err
	}
	if err := o.checkSpace(filepath.Dir(dest), uint64(a.Size())); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}

	log.Info().Int("entries", len(a.Names())).Msg("- Writing archive")
	if err := a.Write(fs, cfg.Bundle.Output, os.FileMode(0644)); err != nil {
		return err
	}

	return nil
}
