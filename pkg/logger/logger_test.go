package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestWithRunTagsEveryLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.log")
	require.NoError(t, Init("debug", "json", path))

	log := WithRun("run-1", 42)
	log.Info("Settlement started")
	log.WithField("rank", 2).Warn("Payout failed")

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, "run-1", l["run_id"])
		assert.EqualValues(t, 42, l["tournament_id"])
	}
	assert.EqualValues(t, 2, lines[1]["rank"])
	assert.Equal(t, "warning", lines[1]["level"])
}

func TestWithTournament(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.log")
	require.NoError(t, Init("info", "json", path))

	WithTournament(7).Info("Reward tiers replaced")
	Debug("hidden below info")

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 7, lines[0]["tournament_id"])
	assert.NotContains(t, lines[0], "run_id")
}

func TestInitFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init("chatty", "text", "stderr"))
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, Log.Formatter)
}

func TestInitRejectsUnwritableOutput(t *testing.T) {
	err := Init("info", "text", filepath.Join(t.TempDir(), "missing", "rewards.log"))
	assert.Error(t, err)
}
