package inject

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gitlab.com/timecraftjs/kernel-setup/internal/logging"
	"gitlab.com/timecraftjs/kernel-setup/internal/misc"
)

// DefaultPrefix is where the kernels live once timecraftjs is installed as a
// dependency.
var DefaultPrefix = filepath.FromSlash("/node_modules/timecraftjs")

// Transform maps a kernel path to the string written into a target.
type Transform func(path string) string

// Target is a file whose first line is replaced by a generated
// declaration.
type Target struct {
	Path      string
	Transform Transform
}

// Raw leaves kernel paths as they are.
func Raw(path string) string {
	return path
}

// Prefixed returns a Transform that joins prefix in front of each kernel
// path.
func Prefixed(prefix string) Transform {
	return func(path string) string {
		return JoinPrefix(prefix, path)
	}
}

// DefaultTargets returns the two targets rewritten on every run, in the order
// they are processed.
func DefaultTargets(prefix string) []Target {
	return []Target{
		{Path: "timecraft.js", Transform: Prefixed(prefix)},
		{Path: "preload.js", Transform: Raw},
	}
}

// JoinPrefix joins prefix and path with the platform separator. Unlike
// filepath.Join the result is not cleaned: an absolute path discards the
// prefix, and a prefix that already ends in a separator is not doubled.
func JoinPrefix(prefix string, path string) string {
	switch {
	case filepath.IsAbs(path) || prefix == "":
		return path
	case os.IsPathSeparator(prefix[len(prefix)-1]):
		return prefix + path
	}
	return prefix + string(filepath.Separator) + path
}

// Declaration renders the kernel_paths declaration line, newline included.
// Paths are quoted as-is, a path containing a double quote produces a broken
// declaration.
func Declaration(paths []string) string {
	var sb strings.Builder
	sb.WriteString("var kernel_paths = [")
	for i, p := range paths {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\"")
		sb.WriteString(p)
		sb.WriteString("\"")
	}
	sb.WriteString("];\n")
	return sb.String()
}

type Injector struct {
	fs      afero.Fs
	targets []Target
}

// New returns an Injector that rewrites the given targets on fs.
func New(fs afero.Fs, targets []Target) *Injector {
	return &Injector{
		fs:      fs,
		targets: targets,
	}
}

// Inject replaces the first line of every target with a declaration of the
// given kernel paths. Targets are processed one after the other, and there is
// no rollback: if a later target fails, earlier ones stay rewritten.
func (i *Injector) Inject(paths []string) error {
	logger := logging.GetLogger("inject")
	defer misc.TimeFunc(time.Now(), "inject")

	for _, t := range i.targets {
		transform := t.Transform
		if transform == nil {
			transform = Raw
		}
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			out = append(out, transform(p))
		}

		logger.Info().Str("target", t.Path).Int("kernels", len(out)).Msg("- Writing kernel paths")
		if err := ReplaceFirstLine(i.fs, t.Path, Declaration(out)); err != nil {
			return err
		}
	}

	return nil
}

// ReplaceFirstLine overwrites the file at path with line followed by every
// line of the original file after the first one. The file is rewritten in
// place.
func ReplaceFirstLine(fs afero.Fs, path string, line string) error {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("inject: unable to read target %q: %w", path, err)
	}

	body := bodyOf(contents)

	fd, err := fs.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("inject: unable to open target %q for writing: %w", path, err)
	}
	defer fd.Close()

	if _, err := fd.WriteString(line); err != nil {
		return fmt.Errorf("inject: unable to write declaration to %q: %w", path, err)
	}
	if _, err := fd.Write(body); err != nil {
		return fmt.Errorf("inject: unable to write body of %q: %w", path, err)
	}
	if err := fd.Close(); err != nil {
		return fmt.Errorf("inject: error closing %q: %w", path, err)
	}

	return nil
}

// FirstLine returns the first line of the file at path, without its line
// terminator.
func FirstLine(fs afero.Fs, path string) (string, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fmt.Errorf("inject: unable to read target %q: %w", path, err)
	}

	first, _, _ := bytes.Cut(contents, []byte("\n"))
	return strings.TrimSuffix(string(first), "\r"), nil
}

// everything after the first "\n". A file without one is all first line.
func bodyOf(contents []byte) []byte {
	_, body, found := bytes.Cut(contents, []byte("\n"))
	if !found {
		return nil
	}
	return body
}
