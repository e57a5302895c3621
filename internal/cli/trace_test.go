package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceUnknownToken(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "hello", "--journal", db, "--token", "seed")
	require.NoError(t, err)

	_, _, err = executeCommand("trace", "--journal", db, "--token", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown render token")
}

func TestTraceTimelineAndStats(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "hello_async", "--stream", "--journal", db, "--token", "tr-stream")
	require.NoError(t, err)

	out, _, err := executeCommand("trace", "--journal", db, "--token", "tr-stream")
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for render: tr-stream")
	assert.Contains(t, out, "Page: hello_async (stream)")
	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "REC  t00")
	assert.Contains(t, out, "FRAG t0")
	assert.Contains(t, out, "t0 ok: <div>Hello World</div>")
	assert.Contains(t, out, "Records:      1")
	assert.Contains(t, out, "Fragments:    1")
}

func TestTraceBoundaryFilter(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "hello_async", "--stream", "--journal", db, "--token", "tr-filter")
	require.NoError(t, err)

	out, _, err := executeCommand("--format", "json", "trace", "--journal", db, "--token", "tr-filter", "--boundary", "t00")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "tr-filter", resp.Token)

	var result TraceResult
	dataAs(t, resp, &result)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "record", result.Timeline[0].Kind)
	assert.Equal(t, "t00", result.Timeline[0].BoundaryID)
	assert.Equal(t, `{"id":"t00","p":{"s":1,"v":"Hello World"}}`, result.Timeline[0].Payload)

	// Stats cover the whole stream, not the filtered view.
	assert.Greater(t, result.Stats.TotalChunks, 1)
	assert.Equal(t, 1, result.Stats.Records)
	assert.Equal(t, 1, result.Stats.Fragments)
}

func TestTraceFailedFragment(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "parallel_reject", "--stream", "--journal", db, "--token", "tr-reject")
	require.NoError(t, err)

	out, _, err := executeCommand("trace", "--journal", db, "--token", "tr-reject")
	require.NoError(t, err)
	assert.Contains(t, out, "FRAG t0 error: B failed")
	assert.Contains(t, out, "t0 error: B failed")
	assert.Contains(t, out, "Records:      0")
}

func TestTraceListsRenders(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "hello", "--journal", db, "--token", "ls-1")
	require.NoError(t, err)
	_, _, err = executeCommand("render", "hello_async", "--stream", "--journal", db, "--token", "ls-2")
	require.NoError(t, err)

	out, _, err := executeCommand("trace", "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Journaled renders: 2")
	assert.Contains(t, out, "ls-1 (hello, sync)")
	assert.Contains(t, out, "ls-2 (hello_async, stream)")
}

func TestTraceListJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "limn.db")
	_, _, err := executeCommand("render", "hello", "--journal", db, "--token", "ls-json")
	require.NoError(t, err)

	out, _, err := executeCommand("--format", "json", "trace", "--journal", db)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	var rows []RenderRow
	dataAs(t, resp, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "ls-json", rows[0].Token)
	assert.Equal(t, "hello", rows[0].Page)
	assert.True(t, rows[0].Completed)
	assert.NotEmpty(t, rows[0].StartedAt)
}
