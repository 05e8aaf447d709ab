package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tilesync/internal/stage"
)

const testTasks = `tasks:
  trails:
    channelName: trails_changed
    sql: SELECT id, geom FROM trails
  parks:
    channelName: parks_changed
    sql: SELECT id, geom FROM parks
    vtParams: ["-zg"]
`

var testEnvKeys = []string{
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASS", "DB_NAME", "DB_SSLMODE",
	"OUTPUT_PATH", "TMP_PATH", "TASKS_FILE", "JOURNAL_PATH",
	"KILL_IMAGE_NAME", "KILL_SIGNAL", "TRIGGER_AT_STARTUP", "METRICS_ADDR",
	"LISTEN_RECONNECT_MIN", "LISTEN_RECONNECT_MAX", "NOTIFY_TIMEOUT",
	"OGR2OGR_BIN", "TIPPECANOE_BIN", "TILE_JOIN_BIN",
}

// testEnv points the environment at fresh output, temp and tasks locations
// and returns the output directory.
func testEnv(t *testing.T) string {
	t.Helper()
	for _, k := range testEnvKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())

	out := t.TempDir()
	tasks := filepath.Join(t.TempDir(), "tasks.yml")
	require.NoError(t, os.WriteFile(tasks, []byte(testTasks), 0o644))

	t.Setenv("OUTPUT_PATH", out)
	t.Setenv("TMP_PATH", t.TempDir())
	t.Setenv("TASKS_FILE", tasks)
	return out
}

const featureCollection = `{"type":"FeatureCollection","features":[{"type":"Feature","id":1,"properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`

// toolRunner stands in for ogr2ogr, tippecanoe and tile-join by writing
// their output files.
type toolRunner struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *toolRunner) Run(_ context.Context, name string, args ...string) (stage.Output, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()

	if r.fail {
		return stage.Output{Stderr: "tool crashed"}, errors.New("exit status 1")
	}

	if name == stage.DefaultOGR2OGR {
		return stage.Output{}, os.WriteFile(args[2], []byte(featureCollection), 0o644)
	}
	i := slices.Index(args, "-o")
	if i < 0 || i+1 >= len(args) {
		return stage.Output{}, errors.New("missing -o")
	}
	return stage.Output{}, os.WriteFile(args[i+1], []byte("archive:"+name), 0o644)
}

func (r *toolRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
