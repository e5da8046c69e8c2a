package streamtee

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryModeFansOutToAllSinks(t *testing.T) {
	src := strings.NewReader("hello world")
	var a, b bytes.Buffer

	tee := New(src, Binary, &a, &b)
	require.NoError(t, tee.Join())

	assert.Equal(t, "hello world", a.String())
	assert.Equal(t, "hello world", b.String())
}

func TestTextModeAppendsNewlinePerLine(t *testing.T) {
	src := strings.NewReader("line one\nline two")
	var buf bytes.Buffer

	tee := New(src, Text, &buf)
	require.NoError(t, tee.Join())

	assert.Equal(t, "line one\nline two\n", buf.String())
}

func TestJoinSurfacesSourceReadError(t *testing.T) {
	boom := errors.New("boom")
	tee := New(&failingReader{err: boom}, Binary, io.Discard)
	assert.ErrorIs(t, tee.Join(), boom)
}

// chunkReader yields n fixed-size chunks without ever blocking, then EOF.
type chunkReader struct {
	remaining int
	chunk     []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	r.remaining--
	n := copy(p, r.chunk)
	return n, nil
}

// blockingWriter blocks every Write until release is closed, letting the
// pump race far ahead of a stalled sink so the ring buffer overflows.
type blockingWriter struct {
	release chan struct{}

	mu      sync.Mutex
	written int
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
	return len(p), nil
}

func TestOverflowCountsDroppedChunksUnderBackpressure(t *testing.T) {
	src := &chunkReader{remaining: 500, chunk: []byte("x")}
	sink := &blockingWriter{release: make(chan struct{})}

	tee := New(src, Binary, sink)

	// Give the pump a chance to race far ahead of the still-blocked
	// sink and overflow its ring buffer before we release it.
	time.Sleep(100 * time.Millisecond)
	close(sink.release)

	require.NoError(t, tee.Join())

	overflow := tee.Overflow()
	require.Len(t, overflow, 1)
	assert.Greater(t, overflow[0], int64(0), "expected backpressure to drop at least one chunk")
}

func TestStopHaltsThePumpEarly(t *testing.T) {
	pr, pw := io.Pipe()

	var buf bytes.Buffer
	tee := New(pr, Binary, &buf)
	tee.Stop()
	pw.Close() // unblock the pump's pending Read so Join can return

	require.NoError(t, tee.Join())
}

type failingReader struct{ err error }

func (r *failingReader) Read(p []byte) (int, error) { return 0, r.err }
