package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AsyncLogger decouples log callers from the latency of the underlying
// rotating file writer: Write enqueues onto a buffered channel and returns
// immediately, while a single goroutine drains the channel into the
// lumberjack writer. A full buffer drops the message rather than blocking
// the caller, since a stalled log sink must never stall a filesystem
// callback.
type AsyncLogger struct {
	out     *lumberjack.Logger
	queue   chan []byte
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsyncLogger starts the draining goroutine and returns a ready-to-use
// AsyncLogger writing eventually to out, buffering up to bufferSize pending
// writes.
func NewAsyncLogger(out *lumberjack.Logger, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		out:   out,
		queue: make(chan []byte, bufferSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for b := range l.queue {
		_, _ = l.out.Write(b)
	}
}

// Write implements io.Writer. It copies p (the caller may reuse its buffer
// immediately after Write returns) and enqueues it.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	select {
	case l.queue <- cp:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close stops accepting writes, waits for the queue to drain, and closes the
// underlying file.
func (l *AsyncLogger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	l.closeMu.Unlock()

	close(l.queue)
	<-l.done
	return l.out.Close()
}

var _ io.WriteCloser = (*AsyncLogger)(nil)
