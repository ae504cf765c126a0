package log

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, _, err := Setup(Config{Level: "loud"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "loud")
}

func TestSetupDefaultsToStderrText(t *testing.T) {
	t.Parallel()

	logger, closer, err := Setup(Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closer())
}

func TestSetupWithFileCreatesLogDirectory(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "nested", "sst.log")
	logger, closer, err := Setup(Config{Level: "debug", File: logPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	logger.Debug("scan", "ports", 3)
	require.DirExists(t, filepath.Dir(logPath))
}

func TestRotatingWriterAppliesPackageDefaults(t *testing.T) {
	t.Parallel()

	writer, err := newRotatingWriter(Config{File: filepath.Join(t.TempDir(), "sst.log")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	require.Equal(t, DefaultMaxSizeMB, writer.MaxSize)
	require.Equal(t, DefaultMaxFiles, writer.MaxBackups)
}

func TestLogRotationCreatesNewFileAfterLimit(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "sst.log")

	writer, err := newRotatingWriter(Config{
		File:      logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("a"), 256*1024)
	for i := 0; i < 8; i++ {
		_, err = writer.Write(chunk)
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(logDir, "sst*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
}
