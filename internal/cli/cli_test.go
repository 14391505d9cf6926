package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"start"},
		{"run"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"seed"},
		{"worker", "run"},
		{"files", "sweep"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.NotNil(t, cmd.RunE, path)
	}

	sweep, _, err := root.Find([]string{"files", "sweep"})
	require.NoError(t, err)
	minAge, err := sweep.Flags().GetDuration("min-age")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, minAge)
}

func TestSweepRejectsNegativeAge(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"files", "sweep", "--min-age", "-1m"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min-age")
}
