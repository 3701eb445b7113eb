package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTickCommand_PrintsReport(t *testing.T) {
	t.Setenv("TASK_SCHEDULER_DATABASE_DSN", filepath.Join(t.TempDir(), "tasks.db"))

	out, err := runCommand(t, "tick")
	require.NoError(t, err)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, true, report["success"])
	assert.Contains(t, report, "remindersSent")
}

func TestTickCommand_FailsWhenStoreUnreachable(t *testing.T) {
	t.Setenv("TASK_SCHEDULER_DATABASE_DSN", filepath.Join(t.TempDir(), "missing", "dir", "tasks.db"))

	out, err := runCommand(t, "tick")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
	assert.Empty(t, out)
}

func TestDueCommand_RejectsBadInstant(t *testing.T) {
	_, err := runCommand(t, "due", "--at", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")
}
