package multi

import (
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
)

// Multi allows listing kernels from several sources at once, by slurping up
// types that implement FileLister (which includes this type!) and
// concatenating their output in order.
type Multi struct {
	sources []filelist.FileLister
}

// New returns a new Multi that generates a list of kernels based on the given
// list of FileListers.
func New(sources []filelist.FileLister) *Multi {
	return &Multi{
		sources: sources,
	}
}

func (m *Multi) List() (*filelist.FileList, error) {
	files := filelist.NewFileList()

	for _, s := range m.sources {
		list, err := s.List()
		if err != nil {
			return nil, err
		}
		files.Import(list)
	}

	return files, nil
}
