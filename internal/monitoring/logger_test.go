package monitoring

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestUseZap(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	UseZap(NewLogger(&buf, nil, false))
	Logf("skipped %d images", 3)
	assert.Contains(t, buf.String(), "INFO - skipped 3 images")

	UseZap(nil)
	Logf("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestNewLoggerTeesToFile(t *testing.T) {
	var console, file bytes.Buffer
	l := NewLogger(&console, &file, false)
	l.Info("stage finished", zap.String("stage", "localizer"))
	l.Debug("hidden")

	for _, out := range []string{console.String(), file.String()} {
		assert.Contains(t, out, "INFO - stage finished")
		assert.Contains(t, out, `"stage": "localizer"`)
		assert.NotContains(t, out, "hidden")
	}

	line := strings.SplitN(file.String(), " - ", 2)[0]
	_, err := time.Parse(TimeLayout, line)
	assert.NoError(t, err, "line should start with a timestamp: %q", file.String())

	var dbg bytes.Buffer
	NewLogger(&dbg, nil, true).Debug("shown")
	assert.Contains(t, dbg.String(), "DEBUG - shown")
}

func TestPipeSinkCapturesStreams(t *testing.T) {
	var log, echoOut, echoErr bytes.Buffer
	s := NewPipeSink(&log)
	s.Stdout = &echoOut
	s.Stderr = &echoErr
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	origOut, origErr := os.Stdout, os.Stderr
	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")
	fmt.Println("hello")
	fmt.Fprintln(os.Stderr, "oops")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "second stop is a no-op")

	assert.Same(t, origOut, os.Stdout)
	assert.Same(t, origErr, os.Stderr)
	assert.Contains(t, log.String(), "2024-05-06 07:08:09 - INFO: hello\n")
	assert.Contains(t, log.String(), "2024-05-06 07:08:09 - ERROR: oops\n")
	assert.Equal(t, "hello\n", echoOut.String())
	assert.Equal(t, "oops\n", echoErr.String())
}

func TestCaptureReturnsWorkingSink(t *testing.T) {
	var log bytes.Buffer
	s := Capture(&log)
	fmt.Println("captured")
	require.NoError(t, s.Stop())
	if _, ok := s.(*PipeSink); ok {
		assert.Contains(t, log.String(), "INFO: captured")
	}

	assert.NoError(t, ConsoleSink{}.Start())
	assert.NoError(t, ConsoleSink{}.Stop())
}
