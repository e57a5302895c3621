package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns stdout,
// stderr, and the execution error.
func executeCommand(args ...string) (string, string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "limn", cmd.Use)
	assert.Contains(t, cmd.Long, "deterministic")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"pages", "render", "replay", "trace", "validate"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestRenderCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	renderCmd, _, err := cmd.Find([]string{"render"})
	require.NoError(t, err)

	streamFlag := renderCmd.Flags().Lookup("stream")
	require.NotNil(t, streamFlag)
	assert.Equal(t, "false", streamFlag.DefValue)

	tokenFlag := renderCmd.Flags().Lookup("token")
	require.NotNil(t, tokenFlag)
	assert.Equal(t, "", tokenFlag.DefValue)

	journalFlag := renderCmd.Flags().Lookup("journal")
	require.NotNil(t, journalFlag)

	manifestFlag := renderCmd.Flags().Lookup("manifest")
	require.NotNil(t, manifestFlag)

	timeoutFlag := renderCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, "30s", timeoutFlag.DefValue)
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	journalFlag := replayCmd.Flags().Lookup("journal")
	require.NotNil(t, journalFlag)
	// --journal is required, so default is empty
	assert.Equal(t, "", journalFlag.DefValue)

	tokenFlag := replayCmd.Flags().Lookup("token")
	require.NotNil(t, tokenFlag)
}

func TestTraceCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	traceCmd, _, err := cmd.Find([]string{"trace"})
	require.NoError(t, err)

	journalFlag := traceCmd.Flags().Lookup("journal")
	require.NotNil(t, journalFlag)

	tokenFlag := traceCmd.Flags().Lookup("token")
	require.NotNil(t, tokenFlag)

	boundaryFlag := traceCmd.Flags().Lookup("boundary")
	require.NotNil(t, boundaryFlag)
}

func TestReplayRequiresJournalFlag(t *testing.T) {
	_, _, err := executeCommand("replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal")
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := executeCommand("--format", "invalid", "pages")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
