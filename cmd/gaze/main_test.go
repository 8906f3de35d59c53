package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

func TestReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	content := `{"x": 1, "y": 2}

{"x": 3, "y": 4, "blink": true}
{"error": "camera denied"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := readRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3.0, *records[1].X)
	assert.True(t, *records[1].Blink)
	assert.True(t, records[2].IsError())
}

func TestReadRecords_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"x\": 1, \"y\": 2}\n{\"x\": 1}\n"), 0o644))

	_, err := readRecords(path)
	assert.ErrorIs(t, err, protocol.ErrMissingCoordinate)
	assert.Contains(t, err.Error(), ":2:")

	empty := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = readRecords(empty)
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, calibration.Summary{Count: 2, Missing: 2})
	assert.NotContains(t, buf.String(), "Distance")

	buf.Reset()
	printSummary(&buf, calibration.Summary{Count: 2, Mean: 5, Median: 5, P90: 5, Min: 5, Max: 5})
	assert.Contains(t, buf.String(), "mean 5.0px")
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "stop", "status", "replay", "export", "calibrate"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
