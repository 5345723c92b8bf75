package profilers

import (
	"context"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

// setFlag changes the value of a flag for the duration of the test.
func setFlag[T any](t *testing.T, flagPtr *T, value T) {
	original := *flagPtr
	*flagPtr = value
	t.Cleanup(func() { *flagPtr = original })
}

func TestSetupNothing(t *testing.T) {
	p, err := Setup(context.Background())
	require.NoError(t, err)
	require.Empty(t, p.Addr)
	p.Stop()
}

func TestProfilers(t *testing.T) {
	dir := t.TempDir()
	cpuPath := filepath.Join(dir, "cpu.prof")
	memPath := filepath.Join(dir, "mem.prof")
	setFlag(t, flagHTTPPort, 0)
	setFlag(t, flagCPUProfile, cpuPath)
	setFlag(t, flagMemProfile, memPath)

	p, err := Setup(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, p.Addr)

	resp, err := http.Get("http://" + p.Addr + "/debug/pprof/")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p.Stop()
	for _, path := range []string{cpuPath, memPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0), "profile %s is empty", path)
	}
}

func TestCPUProfileError(t *testing.T) {
	setFlag(t, flagCPUProfile, filepath.Join(t.TempDir(), "missing", "cpu.prof"))
	_, err := Setup(context.Background())
	require.Error(t, err)
}
