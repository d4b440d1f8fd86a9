package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerIsUsable(t *testing.T) {
	require.NotNil(t, GetLogger())
	assert.NotPanics(t, func() { Info("before init") })
}

func TestInit(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	t.Run("rejects unknown level", func(t *testing.T) {
		err := Init("loud", "json", "stdout")
		assert.Error(t, err)
	})

	t.Run("writes json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		require.NoError(t, Init("info", "json", path))

		Info("ingestion finished")
		Debug("filtered out")
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"ingestion finished"`)
		assert.NotContains(t, string(data), "filtered out")
	})
}
