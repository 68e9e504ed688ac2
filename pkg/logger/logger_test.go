package logger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	l := New(&Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NotNil(t, l)
	l.Info("hello", zap.String("project", "p"))
	_ = l.Sync()
	assert.FileExists(t, path)
}

func TestInit_SetsGlobal(t *testing.T) {
	l := Init(&Config{Level: "info", Format: "json", Output: "stdout"})
	assert.Same(t, l, L())
	assert.True(t, IsJSON())
	assert.Same(t, l, OrDefault(nil))

	other := zap.NewNop()
	assert.Same(t, other, OrDefault(other))

	Init(nil)
	assert.False(t, IsJSON())
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 2", 0 }, errors.New("boom"))
	gl.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 3", 0 }, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)

	silent := gl.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 4", 0 }, nil)
	assert.Len(t, logs.All(), 3)
}
