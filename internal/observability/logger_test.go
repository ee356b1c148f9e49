package observability

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sablewing/modelgrab/internal/config"
)

// memWriter is an in-memory WriteSyncer for capturing console output.
type memWriter struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *memWriter) Sync() error { return nil }

func (w *memWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func testLoggerConfig(format string) config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      format,
		ServiceName: "modelgrab-test",
	}
}

func TestInitialize(t *testing.T) {
	t.Run("writes named structured output", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		w := &memWriter{}
		Initialize(testLoggerConfig("json"), zapcore.AddSync(w))

		logger := GetLogger()
		require.NotNil(t, logger)
		logger.Named("pool").Info("Session pool ready.", zap.Int("capacity", 4))

		out := w.String()
		assert.Contains(t, out, `"msg":"Session pool ready."`)
		assert.Contains(t, out, `"capacity":4`)
		assert.Contains(t, out, "modelgrab-test")
	})

	t.Run("second initialization is a no-op", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		w := &memWriter{}
		Initialize(testLoggerConfig("json"), zapcore.AddSync(w))
		first := GetLogger()

		Initialize(testLoggerConfig("console"), zapcore.AddSync(&memWriter{}))
		assert.Same(t, first, GetLogger())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		w := &memWriter{}
		cfg := testLoggerConfig("json")
		cfg.Level = "chatty"
		Initialize(cfg, zapcore.AddSync(w))

		GetLogger().Debug("hidden")
		GetLogger().Info("shown")

		out := w.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "shown")
	})
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
}
