package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/timecraftjs/kernel-setup/internal/config"
)

const timecraftBody = "import Module from './cspice.js';\nimport * as Spice from './spice.js';\n"
const preloadBody = "var cspice = require(\"./cspice.js\");\nvar fs = require(\"fs\");\n"

type testEnv struct {
	fs     afero.Fs
	opts   *options
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	// directories passed to checkSpace
	spaceChecked []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(config.ConfigEnv, "")

	env := &testEnv{
		fs:     afero.NewMemMapFs(),
		stdout: new(bytes.Buffer),
		stderr: new(bytes.Buffer),
	}
	env.opts = &options{
		stdout:    env.stdout,
		stderr:    env.stderr,
		configDir: t.TempDir(),
		hostFs:    env.fs,
		checkSpace: func(dir string, need uint64) error {
			env.spaceChecked = append(env.spaceChecked, dir)
			return nil
		},
	}
	return env
}

func (e *testEnv) writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(e.fs, filepath.FromSlash(path), []byte(contents), 0644))
}

func (e *testEnv) readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := afero.ReadFile(e.fs, filepath.FromSlash(path))
	require.NoError(t, err)
	return string(b)
}

func (e *testEnv) writeTargets(t *testing.T, dir string) {
	t.Helper()
	e.writeFile(t, filepath.Join(dir, "timecraft.js"), "var kernel_paths = [];\n"+timecraftBody)
	e.writeFile(t, filepath.Join(dir, "preload.js"), "var kernel_paths = [];\n"+preloadBody)
}

func TestRunManifest(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")
	env.writeFile(t, "kernels.txt", "kernels/a/b/c.wasm\nkernels/d/e/f.wasm\n")

	require.Equal(t, 0, run(env.opts, []string{"kernels.txt"}), env.stderr.String())

	assert.Equal(t,
		"var kernel_paths = [\"/node_modules/timecraftjs/kernels/a/b/c.wasm\",\"/node_modules/timecraftjs/kernels/d/e/f.wasm\"];\n"+timecraftBody,
		env.readFile(t, "timecraft.js"))
	assert.Equal(t,
		"var kernel_paths = [\"kernels/a/b/c.wasm\",\"kernels/d/e/f.wasm\"];\n"+preloadBody,
		env.readFile(t, "preload.js"))
	assert.Empty(t, env.stdout.String())
}

func TestRunPrefixArgument(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")
	env.writeFile(t, "kernels.txt", "kernels/lsk/naif0012.tls\n")

	require.Equal(t, 0, run(env.opts, []string{"kernels.txt", "static"}), env.stderr.String())

	assert.Equal(t,
		"var kernel_paths = [\"static/kernels/lsk/naif0012.tls\"];\n"+timecraftBody,
		env.readFile(t, "timecraft.js"))
	assert.Equal(t,
		"var kernel_paths = [\"kernels/lsk/naif0012.tls\"];\n"+preloadBody,
		env.readFile(t, "preload.js"))
}

func TestRunEmptyManifest(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")
	env.writeFile(t, "kernels.txt", "")

	require.Equal(t, 0, run(env.opts, []string{"kernels.txt"}), env.stderr.String())

	assert.Equal(t, "var kernel_paths = [];\n"+timecraftBody, env.readFile(t, "timecraft.js"))
	assert.Equal(t, "var kernel_paths = [];\n"+preloadBody, env.readFile(t, "preload.js"))
}

func TestRunAll(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")
	env.writeFile(t, "kernels/lsk/naif0012.tls", "x")
	env.writeFile(t, "kernels/lsk/.hidden", "x")
	env.writeFile(t, "kernels/spk/de425s.bsp", "x")

	require.Equal(t, 0, run(env.opts, []string{"-all"}), env.stderr.String())

	assert.Equal(t,
		"var kernel_paths = [\"kernels/lsk/naif0012.tls\",\"kernels/spk/de425s.bsp\"];\n"+preloadBody,
		env.readFile(t, "preload.js"))
	assert.Equal(t,
		"var kernel_paths = [\"/node_modules/timecraftjs/kernels/lsk/naif0012.tls\",\"/node_modules/timecraftjs/kernels/spk/de425s.bsp\"];\n"+timecraftBody,
		env.readFile(t, "timecraft.js"))
}

func TestRunUsage(t *testing.T) {
	subtests := []struct {
		name string
		args []string
	}{
		{"no arguments", []string{}},
		{"three arguments", []string{"kernels.txt", "prefix", "extra"}},
	}

	for _, st := range subtests {
		t.Run(st.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.writeTargets(t, ".")

			assert.Equal(t, 1, run(env.opts, st.args))
			assert.Contains(t, env.stdout.String(), "Usage: kernel-setup <source> [<prefix>]")
			assert.Equal(t, "var kernel_paths = [];\n"+timecraftBody, env.readFile(t, "timecraft.js"))
			assert.Equal(t, "var kernel_paths = [];\n"+preloadBody, env.readFile(t, "preload.js"))
		})
	}
}

func TestRunMissingManifest(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")

	assert.Equal(t, 1, run(env.opts, []string{"missing.txt"}))
	assert.Contains(t, env.stderr.String(), "missing.txt")
	assert.Equal(t, "var kernel_paths = [];\n"+timecraftBody, env.readFile(t, "timecraft.js"))
}

func TestRunMissingTarget(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "kernels.txt", "kernels/a\n")
	env.writeFile(t, "timecraft.js", "old\n")

	assert.Equal(t, 1, run(env.opts, []string{"kernels.txt"}))
	assert.Contains(t, env.stderr.String(), "preload.js")
	// no rollback of the first target
	assert.Equal(t, "var kernel_paths = [\"/node_modules/timecraftjs/kernels/a\"];\n", env.readFile(t, "timecraft.js"))
}

func TestRunBaseDir(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("KERNEL_SETUP_BASE_DIR", "/srv/timecraft")
	env.writeTargets(t, "/srv/timecraft")
	env.writeFile(t, "/srv/timecraft/kernels/pck/pck00010.tpc", "x")

	require.Equal(t, 0, run(env.opts, []string{"-all", "/static"}), env.stderr.String())

	assert.Equal(t,
		"var kernel_paths = [\"kernels/pck/pck00010.tpc\"];\n"+preloadBody,
		env.readFile(t, "/srv/timecraft/preload.js"))
	assert.Equal(t,
		"var kernel_paths = [\"/static/kernels/pck/pck00010.tpc\"];\n"+timecraftBody,
		env.readFile(t, "/srv/timecraft/timecraft.js"))
}

func TestRunInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")
	env.writeFile(t, "kernels.txt", "kernels/a\n")
	t.Setenv("KERNEL_SETUP_LOG_LEVEL", "chatty")

	assert.Equal(t, 1, run(env.opts, []string{"kernels.txt"}))
	assert.Contains(t, env.stderr.String(), "invalid configuration")
	assert.Equal(t, "var kernel_paths = [];\n"+timecraftBody, env.readFile(t, "timecraft.js"))
}

func TestRunHelp(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, 0, run(env.opts, []string{"--help"}))
	assert.Contains(t, env.stdout.String(), "-all")
}

func TestRunShow(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "timecraft.js", "var kernel_paths = [\"/p/kernels/a\"];\n"+timecraftBody)
	env.writeFile(t, "preload.js", "var kernel_paths = [\"kernels/a\"];\n"+preloadBody)

	require.Equal(t, 0, run(env.opts, []string{"show"}), env.stderr.String())
	assert.Equal(t,
		"timecraft.js: var kernel_paths = [\"/p/kernels/a\"];\npreload.js: var kernel_paths = [\"kernels/a\"];\n",
		env.stdout.String())
}

func TestRunVersion(t *testing.T) {
	env := newTestEnv(t)
	Version = "1.2.3"
	defer func() { Version = "" }()

	require.Equal(t, 0, run(env.opts, []string{"version"}))
	assert.Contains(t, env.stdout.String(), "1.2.3")
}

func TestRunBundle(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "kernels/lsk/naif0012.tls", "leapseconds")
	env.writeFile(t, "extra/kernels.txt", "kernels/spk/de425s.bsp\n")
	env.writeFile(t, "kernels/spk/de425s.bsp", "ephemeris")

	require.Equal(t, 0, run(env.opts, []string{"bundle", "--all", "-o", "out/kernels.cpio.zst", "-c", "zstd:fast", "extra/kernels.txt"}), env.stderr.String())

	info, err := env.fs.Stat(filepath.FromSlash("out/kernels.cpio.zst"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	require.Len(t, env.spaceChecked, 1)
	assert.Equal(t, "out", filepath.Base(env.spaceChecked[0]))
}

func TestRunBundleDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "kernels.txt", "kernels/lsk/naif0012.tls\n")
	env.writeFile(t, "kernels/lsk/naif0012.tls", "leapseconds")

	require.Equal(t, 0, run(env.opts, []string{"bundle", "kernels.txt"}), env.stderr.String())

	exists, err := afero.Exists(env.fs, "kernels.cpio")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunBundleNoSpace(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "kernels/lsk/naif0012.tls", "leapseconds")
	env.opts.checkSpace = func(dir string, need uint64) error {
		return errors.New("not enough space")
	}

	assert.Equal(t, 1, run(env.opts, []string{"bundle", "--all"}))
	assert.Contains(t, env.stderr.String(), "not enough space")

	exists, err := afero.Exists(env.fs, "kernels.cpio")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunBundleNoSources(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, 1, run(env.opts, []string{"bundle"}))
	assert.Contains(t, env.stderr.String(), "--all")
}

func TestRunSourceNamedLikeSubcommand(t *testing.T) {
	subtests := []struct {
		name      string
		args      []string
		files     map[string]string
		timecraft string
		preload   string
	}{
		{
			name:      "-all with prefix show",
			args:      []string{"-all", "show"},
			files:     map[string]string{"kernels/lsk/naif0012.tls": "x"},
			timecraft: "var kernel_paths = [\"show/kernels/lsk/naif0012.tls\"];\n",
			preload:   "var kernel_paths = [\"kernels/lsk/naif0012.tls\"];\n",
		},
		{
			name:      "-all with prefix version",
			args:      []string{"-all", "version"},
			files:     map[string]string{"kernels/lsk/naif0012.tls": "x"},
			timecraft: "var kernel_paths = [\"version/kernels/lsk/naif0012.tls\"];\n",
			preload:   "var kernel_paths = [\"kernels/lsk/naif0012.tls\"];\n",
		},
		{
			name:      "manifest named version",
			args:      []string{"version"},
			files:     map[string]string{"version": "kernels/spk/de425s.bsp\n"},
			timecraft: "var kernel_paths = [\"/node_modules/timecraftjs/kernels/spk/de425s.bsp\"];\n",
			preload:   "var kernel_paths = [\"kernels/spk/de425s.bsp\"];\n",
		},
		{
			name:      "manifest named help with prefix bundle",
			args:      []string{"help", "bundle"},
			files:     map[string]string{"help": "kernels/a\n"},
			timecraft: "var kernel_paths = [\"bundle/kernels/a\"];\n",
			preload:   "var kernel_paths = [\"kernels/a\"];\n",
		},
		{
			name:      "manifest with prefix show",
			args:      []string{"kernels.txt", "show"},
			files:     map[string]string{"kernels.txt": "kernels/a\n"},
			timecraft: "var kernel_paths = [\"show/kernels/a\"];\n",
			preload:   "var kernel_paths = [\"kernels/a\"];\n",
		},
	}

	for _, st := range subtests {
		t.Run(st.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.writeTargets(t, ".")
			for path, contents := range st.files {
				env.writeFile(t, path, contents)
			}

			require.Equal(t, 0, run(env.opts, st.args), env.stderr.String())
			assert.Equal(t, st.timecraft+timecraftBody, env.readFile(t, "timecraft.js"))
			assert.Equal(t, st.preload+preloadBody, env.readFile(t, "preload.js"))
			assert.Empty(t, env.stdout.String())
		})
	}
}

func TestRunMissingSourceNotSubcommand(t *testing.T) {
	env := newTestEnv(t)
	env.writeTargets(t, ".")

	// "-x" is not a flag of the root, so "show" is the prefix
	assert.Equal(t, 1, run(env.opts, []string{"-x", "show"}))
	assert.Contains(t, env.stderr.String(), "-x")
	assert.Empty(t, env.stdout.String())
}
