package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrintfOnlyWhenEnabled(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() {
		Disable()
		SetLogger(nil)
	})

	Disable()
	Printf("hidden %d", 1)
	assert.Equal(t, 0, logs.Len())

	Enable()
	Printf("shown %d", 2)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown 2", logs.All()[0].Message)
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	err := Init(WithFormat("xml"))
	assert.Error(t, err)
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(WithLevel("loud"))
	assert.Error(t, err)
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pusher.log")
	t.Cleanup(func() {
		Disable()
		SetLogger(nil)
	})

	require.NoError(t, Init(WithLevel("debug"), WithFormat("json"), WithFile(path), WithRotation(1, 1, 1)))
	assert.True(t, Enabled())

	Named("test").Info("hello")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNamedAddsComponent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Named("manager").Info("joined")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "manager", logs.All()[0].ContextMap()["component"])
}
