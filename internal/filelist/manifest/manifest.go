package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
)

type Manifest struct {
	fs   afero.Fs
	path string
}

// kernelListEntry is one element of a kernel_list.json manifest. The URL is
// only used by the downloader and is ignored here.
type kernelListEntry struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// New returns a new Manifest that lists the kernel paths found in the file at
// path. Files ending in .json are read as a kernel_list.json array, anything
// else as one path per line.
func New(fs afero.Fs, path string) *Manifest {
	return &Manifest{
		fs:   fs,
		path: path,
	}
}

func (m *Manifest) List() (*filelist.FileList, error) {
	logger := logging.GetLogger("manifest")
	logger.Info().Str("manifest", m.path).Msg("- Including kernels from manifest")
	f, err := m.fs.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("manifest: unable to open %q: %w", m.path, err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(m.path), ".json") {
		return m.listJSON(f)
	}

	files := filelist.NewFileList()
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			files.Add(strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: unable to process %q: %w", m.path, err)
		}
	}

	logger.Debug().Str("manifest", m.path).Int("count", files.Len()).Msg("-- Manifest read")
	return files, nil
}

func (m *Manifest) listJSON(f afero.File) (*filelist.FileList, error) {
	var entries []kernelListEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("manifest: unable to parse kernel list %q: %w", m.path, err)
	}

	files := filelist.NewFileList()
	for _, e := range entries {
		files.Add(e.Path)
	}
	return files, nil
}
