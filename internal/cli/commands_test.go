package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// execute runs the root command and returns what it wrote to stdout.
func execute(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if stdin != nil {
		cmd.SetIn(bytes.NewReader(stdin))
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string, data any) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func encodeMessages(t *testing.T, msgs ...*protocol.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := protocol.EncodeMessage(m)
		require.NoError(t, err)
		buf.Write(b)
	}
	return buf.Bytes()
}

func writeMessages(t *testing.T, dir, name string, msgs ...*protocol.Message) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, encodeMessages(t, msgs...), 0o644))
	return path
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	file := writeMessages(t, dir, "casts.cbor",
		testutil.CastAdd(1, 100, "first"),
		testutil.CastAdd(1, 101, "second"),
	)

	out, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cast_add fid=1")
	assert.Contains(t, out, "2 applied, 0 rejected")

	t.Run("duplicates are rejected", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "--format", "json", "merge", file)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var result ApplyResult
		resp := decodeResponse(t, out, &result)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 0, result.Applied)
		assert.Equal(t, 2, result.Rejected)
		for _, m := range result.Messages {
			assert.Equal(t, string(protocol.ErrCodeDuplicate), m.Outcome)
			assert.NotEmpty(t, m.Error)
		}
	})
}

func TestMergeCommand_Stdin(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	input := encodeMessages(t, testutil.LinkAdd(3, 100, "follow", 4))

	out, err := execute(t, input, "--db", dbPath, "--format", "json", "merge", "-")
	require.NoError(t, err)

	var result ApplyResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "link_add", result.Messages[0].Type)
	assert.Equal(t, uint64(3), result.Messages[0].Fid)
	assert.NotZero(t, result.Messages[0].EventID)
}

func TestMergeCommand_UnreadableInput(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")

	t.Run("missing file", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "merge", filepath.Join(dir, "nope.cbor"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E_COMMAND]")
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.cbor")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o644))
		_, err := execute(t, nil, "--db", dbPath, "merge", path)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestRevokeCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	cast := testutil.CastAdd(7, 100, "to be revoked")
	file := writeMessages(t, dir, "cast.cbor", cast)

	_, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)
	out, err := execute(t, nil, "--db", dbPath, "revoke", file)
	require.NoError(t, err)
	assert.Contains(t, out, "1 applied, 0 rejected")

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "7")
	require.NoError(t, err)
	var list MessageList
	decodeResponse(t, out, &list)
	assert.Empty(t, list.Messages)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "events")
	require.NoError(t, err)
	var evs EventList
	decodeResponse(t, out, &evs)
	require.Len(t, evs.Events, 2)
	assert.Equal(t, "merge_message", evs.Events[0]["type"])
	assert.Equal(t, "revoke_message", evs.Events[1]["type"])
}

func TestGetCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	file := writeMessages(t, dir, "casts.cbor",
		testutil.CastAdd(2, 300, "newest"),
		testutil.CastAdd(2, 100, "oldest"),
		testutil.CastAdd(2, 200, "middle"),
		testutil.CastAdd(9, 100, "other fid"),
	)
	_, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	t.Run("oldest first", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "2")
		require.NoError(t, err)
		var list MessageList
		decodeResponse(t, out, &list)
		require.Len(t, list.Messages, 3)
		assert.Equal(t, "oldest", list.Messages[0]["text"])
		assert.Equal(t, "newest", list.Messages[2]["text"])
		assert.Empty(t, list.NextPageToken)
	})

	t.Run("reverse", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "2", "--reverse")
		require.NoError(t, err)
		var list MessageList
		decodeResponse(t, out, &list)
		require.Len(t, list.Messages, 3)
		assert.Equal(t, "newest", list.Messages[0]["text"])
	})

	t.Run("pages", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "2", "--page-size", "2")
		require.NoError(t, err)
		var first MessageList
		decodeResponse(t, out, &first)
		require.Len(t, first.Messages, 2)
		require.NotEmpty(t, first.NextPageToken)

		out, err = execute(t, nil, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "2",
			"--page-size", "2", "--page-token", first.NextPageToken)
		require.NoError(t, err)
		var second MessageList
		decodeResponse(t, out, &second)
		require.Len(t, second.Messages, 1)
		assert.Equal(t, "newest", second.Messages[0]["text"])
	})

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "get", "cast", "--fid", "9")
		require.NoError(t, err)
		assert.Contains(t, out, "text=other fid")
		assert.Contains(t, out, "1 cast message(s) for fid 9")
	})

	t.Run("unknown class", func(t *testing.T) {
		out, err := execute(t, nil, "--db", dbPath, "get", "poll", "--fid", "2")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, string(protocol.ErrCodeInvalidParam))
	})

	t.Run("bad page token", func(t *testing.T) {
		_, err := execute(t, nil, "--db", dbPath, "get", "cast", "--fid", "2", "--page-token", "zz")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})

	t.Run("fid is required", func(t *testing.T) {
		_, err := execute(t, nil, "--db", dbPath, "get", "cast")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fid")
	})
}

func TestPruneCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	cfgPath := filepath.Join(dir, "hub.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("prune_limits:\n  casts: 1\n"), 0o644))

	file := writeMessages(t, dir, "casts.cbor",
		testutil.CastAdd(4, 100, "a"),
		testutil.CastAdd(4, 200, "b"),
		testutil.CastAdd(4, 300, "c"),
	)
	_, err := execute(t, nil, "--config", cfgPath, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	out, err := execute(t, nil, "--config", cfgPath, "--db", dbPath, "--format", "json",
		"prune", "--fid", "4", "--class", "cast")
	require.NoError(t, err)
	var evs EventList
	decodeResponse(t, out, &evs)
	require.Len(t, evs.Events, 2)
	for _, ev := range evs.Events {
		assert.Equal(t, "prune_message", ev["type"])
	}

	out, err = execute(t, nil, "--config", cfgPath, "--db", dbPath, "--format", "json", "get", "cast", "--fid", "4")
	require.NoError(t, err)
	var list MessageList
	decodeResponse(t, out, &list)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "c", list.Messages[0]["text"])

	t.Run("more units keep more", func(t *testing.T) {
		out, err := execute(t, nil, "--config", cfgPath, "--db", dbPath, "prune", "--fid", "4", "--units", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "0 event(s)")
	})
}

func TestEventsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	file := writeMessages(t, dir, "links.cbor",
		testutil.LinkAdd(1, 100, "follow", 2),
		testutil.LinkAdd(1, 101, "follow", 3),
		testutil.LinkAdd(1, 102, "follow", 4),
	)
	_, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	out, err := execute(t, nil, "--db", dbPath, "--format", "json", "events", "--limit", "2")
	require.NoError(t, err)
	var first EventList
	decodeResponse(t, out, &first)
	require.Len(t, first.Events, 2)

	last, ok := first.Events[1]["id"].(float64)
	require.True(t, ok)
	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "events",
		"--from", jsonNumber(uint64(last)+1))
	require.NoError(t, err)
	var rest EventList
	decodeResponse(t, out, &rest)
	require.Len(t, rest.Events, 1)

	out, err = execute(t, nil, "--db", dbPath, "events")
	require.NoError(t, err)
	assert.Contains(t, out, "merge_message link_add fid=1")
	assert.Contains(t, out, "3 event(s)")
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestTrieCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")

	out, err := execute(t, nil, "--db", dbPath, "--format", "json", "trie", "root")
	require.NoError(t, err)
	var empty TrieRoot
	decodeResponse(t, out, &empty)
	assert.Equal(t, 0, empty.Items)

	file := writeMessages(t, dir, "msgs.cbor",
		testutil.CastAdd(1, 100, "hello"),
		testutil.LinkAdd(1, 100, "follow", 2),
	)
	_, err = execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "trie", "root")
	require.NoError(t, err)
	var root TrieRoot
	decodeResponse(t, out, &root)
	assert.Equal(t, 2, root.Items)
	assert.NotEqual(t, empty.RootHash, root.RootHash)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "trie", "values")
	require.NoError(t, err)
	var values TrieValues
	decodeResponse(t, out, &values)
	require.Len(t, values.Keys, 2)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "trie", "exists", values.Keys[0])
	require.NoError(t, err)
	var exists TrieExists
	decodeResponse(t, out, &exists)
	assert.True(t, exists.Exists)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "trie", "metadata")
	require.NoError(t, err)
	var node TrieNode
	decodeResponse(t, out, &node)
	assert.Equal(t, 2, node.NumMessages)
	require.NotEmpty(t, node.Children)

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "trie", "snapshot", values.Keys[0][:10])
	require.NoError(t, err)
	var snap TrieSnapshot
	decodeResponse(t, out, &snap)
	assert.Equal(t, values.Keys[0][:10], snap.Prefix)
	assert.Len(t, snap.ExcludedHashes, 6)

	t.Run("invalid hex", func(t *testing.T) {
		_, err := execute(t, nil, "--db", dbPath, "trie", "exists", "0xnothex")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})
}

const oneCastScenario = `name: one_cast
steps:
  - op: merge
    id: a
    message: { type: cast_add, fid: 1, timestamp: 10, text: hi }
assertions:
  - type: present
    ref: a
  - type: trie_items
    count: 1
`

const failingScenario = `name: wrong_count
steps:
  - op: merge
    id: a
    message: { type: cast_add, fid: 1, timestamp: 10, text: hi }
assertions:
  - type: trie_items
    count: 2
`

func TestTestCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one_cast.yaml"), []byte(oneCastScenario), 0o644))
	goldenPath := filepath.Join(dir, "golden", "one_cast.golden")

	out, err := execute(t, nil, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ one_cast (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(golden), `{"scenario_name":"one_cast"`))

	out, err = execute(t, nil, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All scenarios passed")

	t.Run("golden mismatch", func(t *testing.T) {
		require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"one_cast","trace":[]}`), 0o644))
		out, err := execute(t, nil, "test", dir)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "does not match golden file")
	})

	t.Run("filter", func(t *testing.T) {
		out, err := execute(t, nil, "test", dir, "--filter", "prune_*")
		require.NoError(t, err)
		assert.Contains(t, out, "No scenarios found.")
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := execute(t, nil, "test", filepath.Join(dir, "absent"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestTestCommand_FailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_count.yaml"), []byte(failingScenario), 0o644))

	out, err := execute(t, nil, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Contains(t, result.Scenarios[0].Errors[0], "expected 2 trie items, got 1")
}

func TestValidateConfigCommand(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "good.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nstorage_units: 2\n"), 0o644))
		out, err := execute(t, nil, "validate-config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")

		out, err = execute(t, nil, "--format", "json", "validate-config", path)
		require.NoError(t, err)
		var v ConfigValidation
		decodeResponse(t, out, &v)
		assert.True(t, v.Valid)
		assert.Equal(t, path, v.Path)
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("storage_units: 0\n"), 0o644))
		out, err := execute(t, nil, "--format", "json", "validate-config", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		resp := decodeResponse(t, out, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
	})

	t.Run("unreadable", func(t *testing.T) {
		out, err := execute(t, nil, "validate-config", filepath.Join(dir, "missing.yaml"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, ErrCodeConfigUnreadable)
	})
}

func TestConfigFlag_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_key: 1\n"), 0o644))

	_, err := execute(t, nil, "--config", path, "--db", filepath.Join(dir, "hub.db"), "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	file := writeMessages(t, dir, "cast.cbor", testutil.CastAdd(1, 100, "counted"))
	_, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	out, err := execute(t, nil, "--db", dbPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "trie_items 1")

	out, err = execute(t, nil, "--db", dbPath, "--format", "json", "stats")
	require.NoError(t, err)
	var report StatsReport
	decodeResponse(t, out, &report)
	assert.NotEmpty(t, report.Metrics)
}

func TestMigrateVerificationsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hub.db")
	file := writeMessages(t, dir, "verifications.cbor",
		testutil.VerificationAdd(1, 100, bytes.Repeat([]byte{0xaa}, 20)),
		testutil.VerificationAdd(2, 100, bytes.Repeat([]byte{0xbb}, 20)),
	)
	_, err := execute(t, nil, "--db", dbPath, "merge", file)
	require.NoError(t, err)

	out, err := execute(t, nil, "--db", dbPath, "--format", "json", "migrate-verifications")
	require.NoError(t, err)
	var summary MigrationSummary
	decodeResponse(t, out, &summary)
	assert.Equal(t, 2, summary.Verifications)
	assert.Equal(t, 0, summary.Duplicates)

	out, err = execute(t, nil, "--db", dbPath, "migrate-verifications")
	require.NoError(t, err)
	assert.Contains(t, out, "checked 2 verification(s), removed 0 duplicate(s)")
}
