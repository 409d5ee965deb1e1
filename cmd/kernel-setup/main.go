package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/timecraftjs/kernel-setup/internal/config"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist/kerneldir"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist/manifest"
	"gitlab.com/timecraftjs/kernel-setup/internal/inject"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
	"gitlab.com/timecraftjs/kernel-setup/internal/misc"
	"gitlab.com/timecraftjs/kernel-setup/internal/osutil"
)

// set at build time
var Version string

// allSource selects every kernel under the kernels dir instead of a manifest.
const allSource = "-all"

const usageMessage = `Usage: kernel-setup <source> [<prefix>]

<source> is the name of a file that lists the kernels to load, one per line
(in the form of 'kernels/???/???/???.???'), or -all to recursively find all
kernels in the 'kernels' folder.
<prefix> is the path to the folder containing the kernels folder. Leave it
blank to default to '/node_modules/timecraftjs'.`

var errUsage = errors.New("wrong number of arguments")

type options struct {
	stdout io.Writer
	stderr io.Writer
	// directory searched for a config file
	configDir string
	// filesystem relative to the working directory
	hostFs     afero.Fs
	checkSpace func(dir string, need uint64) error
}

func defaultOptions() *options {
	return &options{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		configDir:  ".",
		hostFs:     afero.NewOsFs(),
		checkSpace: osutil.EnsureFreeSpace,
	}
}

func main() {
	os.Exit(run(defaultOptions(), os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func run(o *options, args []string) int {
	logging.SetupLogger(o.stderr, "warn")

	cmd := newRootCmd(o)
	if !wantsSubcommand(o, cmd, args) {
		// keep cobra from matching a subcommand further down the arguments,
		// e.g. "-all show" is a <source> and a <prefix>
		cmd.ResetCommands()
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(o.stdout, usageMessage)
			return 1
		}
		log.Error().Err(err).Msg("kernel-setup failed")
		return 1
	}
	return 0
}

// wantsSubcommand reports whether args name a subcommand. "-all" and any
// existing file are always a <source>, so a manifest called "show" is still
// read.
func wantsSubcommand(o *options, root *cobra.Command, args []string) bool {
	if len(args) == 0 || args[0] == allSource {
		return false
	}
	if exists, err := misc.Exists(o.hostFs, args[0]); err == nil && exists {
		return false
	}

	switch args[0] {
	case "help", "-h", "--help":
		return true
	}
	for _, c := range root.Commands() {
		if c.Name() == args[0] || c.HasAlias(args[0]) {
			return true
		}
	}
	return false
}

func newRootCmd(o *options) *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "kernel-setup <source> [<prefix>]",
		Short: "Write the list of kernel paths into timecraft.js and preload.js",
		Long:  usageMessage,
		// flag parsing would eat "-all"
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errUsage
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(o.configDir)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logging.SetupLogger(o.stderr, c.LogLevel)
			cfg = c
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}
			prefix := cfg.Prefix
			if len(args) == 2 {
				prefix = args[1]
			}
			return injectKernels(o, cfg, args[0], prefix)
		},
	}
	root.SetOut(o.stdout)
	root.SetErr(o.stderr)

	root.AddCommand(
		newBundleCmd(o, &cfg),
		newShowCmd(o, &cfg),
		newVersionCmd(o),
	)

	return root
}

func injectKernels(o *options, cfg *config.Config, source string, prefix string) error {
	defer misc.TimeFunc(time.Now(), "kernel-setup")

	fs, err := workFs(o.hostFs, cfg.BaseDir)
	if err != nil {
		return err
	}

	list, err := sourceLister(o, fs, cfg, source).List()
	if err != nil {
		return err
	}

	return inject.New(fs, cfg.InjectTargets(prefix)).Inject(list.Paths())
}

// sourceLister returns the lister for a <source> argument. Manifests are read
// relative to the working directory, the kernels dir relative to the base dir.
func sourceLister(o *options, fs afero.Fs, cfg *config.Config, source string) filelist.FileLister {
	if source == allSource {
		return kerneldir.New(fs, cfg.KernelsDir)
	}
	return manifest.New(o.hostFs, source)
}

// workFs returns the filesystem holding the kernels dir and targets.
func workFs(host afero.Fs, baseDir string) (afero.Fs, error) {
	if baseDir == "" || baseDir == "." {
		return host, nil
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve base dir %q: %w", baseDir, err)
	}
	return afero.NewBasePathFs(host, abs), nil
}

// hostPath converts a path on the work filesystem to one on the host.
func hostPath(baseDir string, path string) (string, error) {
	if baseDir == "" || baseDir == "." {
		return filepath.Abs(path)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(abs, path), nil
}

func newVersionCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and quit",
		Args:  cobra.NoArgs,
		// no config needed to print the version
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(o.stdout, "%s - %s\n", filepath.Base(os.Args[0]), Version)
		},
	}
}
