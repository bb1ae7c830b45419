// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newAsyncLoggerLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "tagfs.log")
}

// captureStderr captures everything written to os.Stderr during the
// execution of f, so the buffer-full warning AsyncLogger.Write prints can be
// asserted on without the test process's own stderr being polluted.
func captureStderr(f func()) string {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		os.Stderr = oldStderr
	}()

	f()
	w.Close()

	var stderrBuf bytes.Buffer
	io.Copy(&stderrBuf, r)
	r.Close()
	return stderrBuf.String()
}

func TestAsyncLoggerWriteAndClose(t *testing.T) {
	logPath := newAsyncLoggerLogPath(t)
	lj := &lumberjack.Logger{Filename: logPath}
	asyncLogger := NewAsyncLogger(lj, 10)

	fmt.Fprintln(asyncLogger, "tag created: photos")
	fmt.Fprintln(asyncLogger, "file written: greeting")
	fmt.Fprintln(asyncLogger, "tag removed: drafts")
	require.NoError(t, asyncLogger.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	expected := "tag created: photos\nfile written: greeting\ntag removed: drafts\n"
	assert.Equal(t, expected, string(content))
}

// TestAsyncLoggerDropsMessageWhenBufferFull drives a rapid burst of writes
// through a deliberately tiny buffer to force AsyncLogger.Write's
// non-blocking select onto its default branch, and checks that the drop
// warning reaches stderr without the caller ever blocking.
func TestAsyncLoggerDropsMessageWhenBufferFull(t *testing.T) {
	logPath := newAsyncLoggerLogPath(t)
	lj := &lumberjack.Logger{Filename: logPath}
	bufferSize := 2
	asyncLogger := NewAsyncLogger(lj, bufferSize)

	numMessages := 200
	act := func() {
		for i := 0; i < numMessages; i++ {
			fmt.Fprintf(asyncLogger, "callback %d\n", i)
		}
		require.NoError(t, asyncLogger.Close())
	}
	capturedOutput := captureStderr(act)

	assert.Contains(t, capturedOutput, "asynclogger: log buffer is full, dropping message.")

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Greater(t, len(lines), bufferSize, "at least bufferSize messages should have landed")
	assert.Less(t, len(lines), numMessages, "the full backlog should not all have landed")
}
