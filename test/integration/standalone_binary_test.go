package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBuildVersion = "0.0.0-integration"

// buildStandalone compiles cmd/fetchguard and copies the binary into an empty
// directory, so it runs without the repository's files around it.
func buildStandalone(t *testing.T) (binary, workdir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}

	goMod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	goModPath := strings.TrimSpace(string(goMod))
	require.NotEmpty(t, goModPath, "go env GOMOD returned empty")

	built := filepath.Join(t.TempDir(), "fetchguard")
	build := exec.Command("go", "build",
		"-ldflags", "-X main.version="+testBuildVersion,
		"-o", built, "./cmd/fetchguard")
	build.Dir = filepath.Dir(goModPath)
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)

	workdir = t.TempDir()
	binary = filepath.Join(workdir, "fetchguard")
	data, err := os.ReadFile(built)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(binary, data, 0o755))
	return binary, workdir
}

// runBinary runs the binary with an isolated XDG config home and extra env.
func runBinary(t *testing.T, binary, workdir string, env []string, args ...string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+filepath.Join(workdir, "xdg"))
	cmd.Env = append(cmd.Env, env...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func TestStandaloneBinaryOutsideRepo(t *testing.T) {
	binary, workdir := buildStandalone(t)

	t.Run("version json", func(t *testing.T) {
		stdout, stderr, err := runBinary(t, binary, workdir, nil, "version", "--json")
		require.NoError(t, err, stderr)

		var report struct {
			App struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"app"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &report), stdout)
		assert.Equal(t, "fetchguard", report.App.Name)
		assert.Equal(t, testBuildVersion, report.App.Version)
	})

	t.Run("help lists command groups", func(t *testing.T) {
		stdout, stderr, err := runBinary(t, binary, workdir, nil, "--help")
		require.NoError(t, err, stderr)
		for _, name := range []string{"serve", "fetch", "supervisor", "stream", "config"} {
			assert.Contains(t, stdout, name)
		}
	})

	t.Run("config show honors environment", func(t *testing.T) {
		env := []string{"FETCHGUARD_SUPERVISOR_RATE_PER_SECOND=7"}
		stdout, stderr, err := runBinary(t, binary, workdir, env, "config", "show")
		require.NoError(t, err, stderr)
		assert.Contains(t, stdout, "rate_per_second: 7")
	})
}

func TestStandaloneBinaryFetchUsesCache(t *testing.T) {
	binary, workdir := buildStandalone(t)

	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTC","price":42}`))
	}))
	t.Cleanup(upstream.Close)

	stdout, stderr, err := runBinary(t, binary, workdir, nil,
		"fetch", "get", upstream.URL+"/markets",
		"--repeat", "3", "--summary=false", "--output-format", "json")
	require.NoError(t, err, stderr)

	var resp struct {
		Status int `json:"status"`
		Data   struct {
			Price int `json:"price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 42, resp.Data.Price)
	assert.Equal(t, int64(1), hits.Load(), "repeats are served from the response cache")
}

func TestStandaloneBinaryFetchReportsUpstreamFailure(t *testing.T) {
	binary, workdir := buildStandalone(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	_, stderr, err := runBinary(t, binary, workdir, nil,
		"fetch", "get", upstream.URL, "--summary=false")
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
	assert.NotEmpty(t, stderr)
}
