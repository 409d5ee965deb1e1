package kerneldir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
	"gitlab.com/timecraftjs/kernel-setup/internal/misc"
)

type KernelDir struct {
	fs  afero.Fs
	dir string
}

// New returns a new KernelDir that will recursively list every kernel file
// under dir. Files whose name starts with "." are skipped.
func New(fs afero.Fs, dir string) *KernelDir {
	return &KernelDir{
		fs:  fs,
		dir: dir,
	}
}

func (k *KernelDir) List() (*filelist.FileList, error) {
	logger := logging.GetLogger("kerneldir")
	logger.Info().Str("dir", k.dir).Msg("- Searching for kernels")

	files := filelist.NewFileList()

	if exists, err := misc.Exists(k.fs, k.dir); err != nil {
		return nil, fmt.Errorf("kerneldir: unexpected error getting status for %q: %w", k.dir, err)
	} else if !exists {
		logger.Info().Str("dir", k.dir).Msg("-- Unable to find dir, skipping...")
		return files, nil
	}

	// afero.Walk visits entries in lexical order
	err := afero.Walk(k.fs, k.dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if f.IsDir() {
			return nil
		}
		// Walk doesn't follow symlinks, a link to a directory is neither
		// descended into nor listed
		if f.Mode()&os.ModeSymlink != 0 {
			if target, err := k.fs.Stat(path); err == nil && target.IsDir() {
				logger.Debug().Str("link", path).Msg("-- Skipping symlink to directory")
				return nil
			}
		}
		if strings.HasPrefix(f.Name(), ".") {
			logger.Debug().Str("file", path).Msg("-- Skipping hidden file")
			return nil
		}
		files.Add(filepath.Clean(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kerneldir: unable to walk %q: %w", k.dir, err)
	}

	return files, nil
}
