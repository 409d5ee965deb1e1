package filelist

import "sync"

// FileLister is implemented by every source of kernel paths.
type FileLister interface {
	List() (*FileList, error)
}

// FileList is an ordered list of kernel paths. Unlike a set, it keeps
// duplicates and the order paths were added in.
type FileList struct {
	paths []string
	sync.RWMutex
}

func NewFileList() *FileList {
	return &FileList{
		paths: []string{},
	}
}

func (f *FileList) Add(path string) {
	f.Lock()
	defer f.Unlock()

	f.paths = append(f.paths, path)
}

func (f *FileList) Len() int {
	f.RLock()
	defer f.RUnlock()

	return len(f.paths)
}

// Paths returns a copy of the list contents, in order.
func (f *FileList) Paths() []string {
	f.RLock()
	defer f.RUnlock()

	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}

// Import appends the contents of src to the end of the list.
func (f *FileList) Import(src *FileList) {
	for p := range src.IterItems() {
		f.Add(p)
	}
}

// iterate through the list and send each path over the returned channel
func (f *FileList) IterItems() <-chan string {
	ch := make(chan string)
	go func() {
		f.RLock()
		defer f.RUnlock()

		for _, p := range f.paths {
			ch <- p
		}
		close(ch)
	}()
	return ch
}
