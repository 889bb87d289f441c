package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)
	cfg.Device = "test-device"
	cfg.Timezone = "UTC"
	return cfg
}

// run executes one daybook invocation against cfg and returns its stdout.
// Each call opens and closes the store, like separate processes would.
func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()

	flags := &Flags{Config: cfg}
	loader := NewAppLoader(flags)

	var out bytes.Buffer
	root := &cli.Command{
		Name:           "daybook",
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
	root = NewAddCmd(flags, loader).Register(root)
	root = NewLsCmd(flags, loader).Register(root)
	root = NewItemCmd(flags, loader).Register(root)
	root = NewClearCmd(flags, loader).Register(root)
	root = NewTransferCmd(flags, loader).Register(root)
	root = NewDoctorCmd(flags, loader).Register(root)
	root = NewConfigValidateCmd(flags).Register(root)

	err := root.Run(context.Background(), append([]string{"daybook"}, args...))
	require.NoError(t, loader.Close())
	return out.String(), err
}

func mustRun(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	require.NoError(t, err, "daybook %s", strings.Join(args, " "))
	return out
}

func decodeLines(t *testing.T, out string) []todo.Item {
	t.Helper()
	var items []todo.Item
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var it todo.Item
		require.NoError(t, json.Unmarshal(sc.Bytes(), &it))
		items = append(items, it)
	}
	return items
}

func TestCommands_ItemLifecycle(t *testing.T) {
	cfg := newTestConfig(t)

	id := strings.TrimSpace(mustRun(t, cfg, "add", "--time", "09:30", "Buy", "milk"))
	require.NotEmpty(t, id)

	items := decodeLines(t, mustRun(t, cfg, "ls", "--json"))
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "Buy milk", items[0].Text)
	assert.Equal(t, "09:30", items[0].Time)
	assert.Equal(t, cfg.DefaultEmoji, items[0].Emoji)

	assert.Equal(t, "completed\n", mustRun(t, cfg, "done", shortID(id)))
	assert.Equal(t, "updated\n", mustRun(t, cfg, "edit", id, "--text", "Buy oat milk"))

	items = decodeLines(t, mustRun(t, cfg, "ls", "--json"))
	require.Len(t, items, 1)
	assert.True(t, items[0].Completed)
	assert.Equal(t, "Buy oat milk", items[0].Text)

	assert.Equal(t, "cleared 1 item(s)\n", mustRun(t, cfg, "clear"))
	assert.Empty(t, decodeLines(t, mustRun(t, cfg, "ls", "--json")))
}

func TestCommands_EditRequiresAField(t *testing.T) {
	cfg := newTestConfig(t)
	id := strings.TrimSpace(mustRun(t, cfg, "add", "Call mom"))

	_, err := run(t, cfg, "edit", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to change")
}

func TestCommands_UnknownID(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := run(t, cfg, "rm", "deadbeef")
	require.ErrorIs(t, err, todo.ErrNotFound)
}

func TestCommands_ExportImport(t *testing.T) {
	src := newTestConfig(t)
	mustRun(t, src, "add", "Buy milk")
	mustRun(t, src, "add", "--date", "tomorrow", "Call mom")

	exported := mustRun(t, src, "export")
	var items []todo.Item
	require.NoError(t, json.Unmarshal([]byte(exported), &items))
	require.Len(t, items, 2)

	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(exported), 0o644))

	dst := newTestConfig(t)
	assert.Equal(t, "imported 2 item(s), skipped 0\n", mustRun(t, dst, "import", "-f", path))
	assert.Equal(t, "imported 0 item(s), skipped 2\n", mustRun(t, dst, "import", "-f", path))

	mustRun(t, dst, "add", "Local only")
	assert.Equal(t, "replaced collection with 2 item(s)\n", mustRun(t, dst, "import", "--replace", "-f", path))

	var after []todo.Item
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dst, "export")), &after))
	assert.ElementsMatch(t, ids(items), ids(after))
}

func TestCommands_ConfigValidateJSON(t *testing.T) {
	cfg := newTestConfig(t)

	var got struct {
		Valid    bool `json:"valid"`
		Warnings []struct {
			Item string `json:"item"`
		} `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "config", "validate", "--format", "json")), &got))
	assert.True(t, got.Valid)
	require.NotEmpty(t, got.Warnings)
	assert.Equal(t, "llm.token", got.Warnings[0].Item)

	cfg.Backend.Type = config.BackendRemote
	cfg.Backend.Remote.URL = "ftp://nowhere"
	_, err := run(t, cfg, "config", "validate", "--format", "json")
	require.Error(t, err)
}

func TestCommands_DoctorJSON(t *testing.T) {
	cfg := newTestConfig(t)
	mustRun(t, cfg, "add", "Buy milk")

	var got struct {
		Healthy bool `json:"healthy"`
		Summary struct {
			Failed int `json:"failed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "doctor", "--format", "json")), &got))
	assert.True(t, got.Healthy)
	assert.Zero(t, got.Summary.Failed)
}

func ids(items []todo.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
