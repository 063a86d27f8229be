package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeStub installs an executable script named name into dir.
func writeStub(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
}

// consumeOutFlag is shared by both stubs: swallow stdin, touch whatever
// path followed -o.
const consumeOutFlag = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
cat > /dev/null
: > "$out"
`

func TestRunCLIBuildsWithStubbedBackendAndLinker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "main.eve")
	require.NoError(t, os.WriteFile(src, []byte("fn main() -> int { return 0; }\n"), 0o644))

	// The backend and linker are external programs; stub both so the test
	// exercises only the driver's plumbing.
	writeStub(t, dir, "qbe", consumeOutFlag)
	writeStub(t, dir, "fakecc", consumeOutFlag)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	out := filepath.Join(dir, "prog")
	require.NoError(t, RunCLI([]string{"--cc", "fakecc", "--out", out, src}))

	_, err := os.Stat(out)
	require.NoError(t, err, "link step should have produced the output file")
	_, err = os.Stat(filepath.Join(dir, "main.s"))
	require.True(t, os.IsNotExist(err), "transient assembly file should be removed after linking")
}

func TestRunCLIReportsCompileErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.eve")
	require.NoError(t, os.WriteFile(src, []byte("fn f() -> int { return 0; }\n"), 0o644))
	require.Error(t, RunCLI([]string{src}))
}

func TestRunCLIRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.txt")
	require.NoError(t, os.WriteFile(src, []byte("fn main() -> int { return 0; }\n"), 0o644))
	require.Error(t, RunCLI([]string{src}))
}

func TestRunCLIFailsWithoutInputs(t *testing.T) {
	require.Error(t, RunCLI(nil))
}
