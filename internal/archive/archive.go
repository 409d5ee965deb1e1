// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package archive

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
	"gitlab.com/timecraftjs/kernel-setup/internal/filelist"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
)

type CompressFormat string

const (
	FormatGzip CompressFormat = "gzip"
	FormatLzma CompressFormat = "lzma"
	FormatLz4  CompressFormat = "lz4"
	FormatZstd CompressFormat = "zstd"
	FormatNone CompressFormat = "none"
)

type CompressLevel string

const (
	// Mapped to the "default" level for the given format
	LevelDefault CompressLevel = "default"
	// Maps to the fastest compression level for the given format
	LevelFast CompressLevel = "fast"
	// Maps to the best compression level for the given format
	LevelBest CompressLevel = "best"
)

// Archive collects kernel files from a filesystem and writes them out as a
// (optionally compressed) cpio archive.
type Archive struct {
	fs              afero.Fs
	cpioWriter      *cpio.Writer
	buf             *bytes.Buffer
	compress_format CompressFormat
	compress_level  CompressLevel
	items           archiveItems
}

// New returns an Archive that reads kernel files from fs.
func New(fs afero.Fs, format CompressFormat, level CompressLevel) *Archive {
	buf := new(bytes.Buffer)
	archive := &Archive{
		fs:              fs,
		cpioWriter:      cpio.NewWriter(buf),
		buf:             buf,
		compress_format: format,
		compress_level:  level,
	}

	return archive
}

type archiveItem struct {
	header     *cpio.Header
	sourcePath string
}

type archiveItems struct {
	items []archiveItem
	sync.RWMutex
}

// ExtractFormatLevel parses the given string in the format format[:level],
// where :level is one of CompressLevel consts. If level is omitted from the
// string, or if it can't be parsed, the level is set to the default level for
// the given format. If format is unknown, gzip is selected. This function is
// designed to always return something usable within this package.
func ExtractFormatLevel(s string) (format CompressFormat, level CompressLevel) {
	logger := logging.GetLogger("archive")

	f, l, found := strings.Cut(s, ":")
	if !found {
		l = "default"
	}

	level = CompressLevel(strings.ToLower(l))
	format = CompressFormat(strings.ToLower(f))
	switch level {
	case LevelBest:
	case LevelDefault:
	case LevelFast:
	default:
		logger.Warn().Str("level", l).Msg("Unknown or no compression level set, using default")
		level = LevelDefault
	}

	switch format {
	case FormatGzip:
	case FormatLzma:
		if level != LevelDefault {
			logger.Warn().Msg("Format lzma doesn't support a compression level, using default settings")
		}
		level = LevelDefault
	case FormatLz4:
	case FormatNone:
	case FormatZstd:
	default:
		logger.Warn().Str("format", f).Msg("Unknown or no compression format set, using gzip")
		format = FormatGzip
	}

	return
}

// Adds the given item to the archiveItems, only if it doesn't already exist in
// the list. The items are kept sorted in ascending order.
func (a *archiveItems) add(item archiveItem) {
	a.Lock()
	defer a.Unlock()

	if len(a.items) < 1 {
		// empty list
		a.items = append(a.items, item)
		return
	}

	// find existing item, or index of where new item should go
	i := sort.Search(len(a.items), func(i int) bool {
		return strings.Compare(item.header.Name, a.items[i].header.Name) <= 0
	})

	if i >= len(a.items) {
		// doesn't exist in list, but would be at the very end
		a.items = append(a.items, item)
		return
	}

	if strings.Compare(a.items[i].header.Name, item.header.Name) == 0 {
		// already in list
		return
	}

	// grow list by 1, shift right at index, and insert new string at index
	a.items = append(a.items, archiveItem{})
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = item
}

// iterate through items and send each one over the returned channel
func (a *archiveItems) IterItems() <-chan archiveItem {
	ch := make(chan archiveItem)
	go func() {
		a.RLock()
		defer a.RUnlock()

		for _, item := range a.items {
			ch <- item
		}
		close(ch)
	}()
	return ch
}

// Names returns the names of every entry in the archive, in the order they
// will be written.
func (archive *Archive) Names() []string {
	archive.items.RLock()
	defer archive.items.RUnlock()

	names := make([]string, 0, len(archive.items.items))
	for _, i := range archive.items.items {
		names = append(names, i.header.Name)
	}
	return names
}

// Size returns the total size of the regular files added so far. It's a rough
// upper bound for the size of the written archive.
func (archive *Archive) Size() int64 {
	archive.items.RLock()
	defer archive.items.RUnlock()

	var size int64
	for _, i := range archive.items.items {
		if i.header.Mode.IsRegular() {
			size += i.header.Size
		}
	}
	return size
}

// Write writes the archive to path on fs, creating or truncating it.
func (archive *Archive) Write(fs afero.Fs, path string, mode os.FileMode) error {
	if err := archive.writeCpio(); err != nil {
		return err
	}

	if err := archive.cpioWriter.Close(); err != nil {
		return fmt.Errorf("archive.Write: error closing archive: %w", err)
	}

	// Write archive to path
	if err := archive.writeCompressed(fs, path, mode); err != nil {
		return fmt.Errorf("unable to write archive to location %q: %w", path, err)
	}

	if err := fs.Chmod(path, mode); err != nil {
		return fmt.Errorf("unable to chmod %q to %s: %w", path, mode, err)
	}

	return nil
}

// AddItems adds every kernel listed by flister to the archive, each stored
// under its own path.
func (archive *Archive) AddItems(flister filelist.FileLister) error {
	logger := logging.GetLogger("archive")
	list, err := flister.List()
	if err != nil {
		return err
	}
	for _, p := range list.Paths() {
		if p == "" {
			logger.Warn().Msg("Skipping empty kernel path")
			continue
		}
		if err := archive.AddItem(p, p); err != nil {
			return err
		}
	}
	return nil
}

// Adds the given file or directory at "source" to the archive at "dest"
func (archive *Archive) AddItem(source string, dest string) error {
	sourceStat, err := archive.fs.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("AddItem: kernel %q not found: %w", source, err)
		}
		return fmt.Errorf("AddItem: failed to get stat for %q: %w", source, err)
	}

	if sourceStat.IsDir() {
		return archive.addDir(dest)
	}

	return archive.addFile(source, dest, sourceStat)
}

func (archive *Archive) addFile(source string, dest string, sourceStat os.FileInfo) error {
	if err := archive.addDir(filepath.Dir(dest)); err != nil {
		return err
	}

	destFilename := strings.TrimPrefix(filepath.ToSlash(dest), "/")

	archive.items.add(archiveItem{
		sourcePath: source,
		header: &cpio.Header{
			Name: destFilename,
			Mode: cpio.FileMode(sourceStat.Mode().Perm()),
			Size: sourceStat.Size(),
		},
	})

	return nil
}

func (archive *Archive) writeCompressed(fs afero.Fs, path string, mode os.FileMode) (err error) {
	logger := logging.GetLogger("archive")

	fd, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	// Note: fd is closed through "compressor", or directly for FormatNone
	var compressor io.WriteCloser = nopWriteCloser{fd}
	defer func() {
		if e := compressor.Close(); e != nil && err == nil {
			err = e
		}
		if e := fd.Close(); e != nil && err == nil {
			err = e
		}
	}()

	switch archive.compress_format {
	case FormatGzip:
		level := gzip.DefaultCompression
		switch archive.compress_level {
		case LevelBest:
			level = gzip.BestCompression
		case LevelFast:
			level = gzip.BestSpeed
		}
		writer, err := gzip.NewWriterLevel(fd, level)
		if err != nil {
			return err
		}
		compressor = writer
	case FormatLzma:
		writer, err := xz.NewWriter(fd)
		if err != nil {
			return err
		}
		compressor = writer
	case FormatLz4:
		// The default compression for the lz4 library is Fast, and
		// they don't define a Default level otherwise
		level := lz4.Fast
		switch archive.compress_level {
		case LevelBest:
			level = lz4.Level9
		case LevelFast:
			level = lz4.Fast
		}

		var writer = lz4.NewWriter(fd)
		err = writer.Apply(lz4.LegacyOption(true), lz4.CompressionLevelOption(level))
		if err != nil {
			return err
		}
		compressor = writer
	case FormatNone:
	case FormatZstd:
		level := zstd.SpeedDefault
		switch archive.compress_level {
		case LevelBest:
			level = zstd.SpeedBestCompression
		case LevelFast:
			level = zstd.SpeedFastest
		}
		writer, err := zstd.NewWriter(fd, zstd.WithEncoderLevel(level))
		if err != nil {
			return err
		}
		compressor = writer
	default:
		logger.Warn().Msg("Unknown or no compression format set, using gzip")
		compressor = gzip.NewWriter(fd)
	}

	if _, err = io.Copy(compressor, archive.buf); err != nil {
		return err
	}

	// flush the compressor before syncing the file
	if err = compressor.Close(); err != nil {
		return err
	}
	compressor = nopWriteCloser{fd}

	// call fsync just to be sure
	if err := fd.Sync(); err != nil {
		return err
	}

	return nil
}

func (archive *Archive) writeCpio() error {
	// having a transient function for actually adding files to the archive
	// allows the deferred fd.close to run after every copy and prevent having
	// tons of open file handles until the copying is all done
	copyToArchive := func(source string, header *cpio.Header) error {

		if err := archive.cpioWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("archive.writeCpio: unable to write header: %w", err)
		}

		// don't copy actual dirs into the archive, writing the header is enough
		if !header.Mode.IsDir() {
			if header.Mode.IsRegular() {
				fd, err := archive.fs.Open(source)
				if err != nil {
					return fmt.Errorf("archive.writeCpio: Unable to open file %q, %w", source, err)
				}
				defer fd.Close()
				if _, err := io.Copy(archive.cpioWriter, fd); err != nil {
					return fmt.Errorf("archive.writeCpio: Couldn't process %q: %w", source, err)
				}
			} else {
				return fmt.Errorf("archive.writeCpio: unknown type for file: %q: %d", source, header.Mode)
			}
		}

		return nil
	}

	for i := range archive.items.IterItems() {
		if err := copyToArchive(i.sourcePath, i.header); err != nil {
			return err
		}
	}
	return nil
}

func (archive *Archive) addDir(dir string) error {
	dir = filepath.ToSlash(dir)
	if dir == "/" || dir == "." {
		return nil
	}

	subdirs := strings.Split(strings.TrimPrefix(dir, "/"), "/")
	for i, subdir := range subdirs {
		path := strings.Join(append(subdirs[:i:i], subdir), "/")
		archive.items.add(archiveItem{
			sourcePath: path,
			header: &cpio.Header{
				Name: path,
				Mode: cpio.ModeDir | 0755,
			},
		})
	}

	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
