package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, DEBUG, level)

	level, ok = ParseLevel("nonsense")
	assert.False(t, ok)
	assert.Equal(t, INFO, level, "неизвестный уровень должен откатываться на INFO")
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TOWER_LOG_DIR", dir)

	logger, err := NewLogger("storage")
	require.NoError(t, err)

	logger.Debug("saved snapshot min=%d max=%d", 3, 9)
	require.NoError(t, logger.Close())

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[DEBUG] [storage] saved snapshot min=3 max=9"))
}

func TestManagerReturnsSameLogger(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	first := lm.MustGetLogger("network")
	second := lm.MustGetLogger("network")
	assert.Same(t, first, second)
	assert.Equal(t, []string{"network"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("network", DEBUG, TRACE))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, TRACE))
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestHexDumpLimits(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))

	dump := HexDump(make([]byte, 1024))
	// 256 байт -> 16 строк по 16 байт
	assert.Equal(t, 16, strings.Count(dump, "\n"))
}
