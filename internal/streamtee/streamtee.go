// Package streamtee copies a single source reader to N sink writers in
// a background goroutine, the way a shell's `tee` fans output to
// multiple files at once. See spec §4.1.
package streamtee

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"lura/internal/invariant"
)

// defaultBufSize is the fixed buffer size for binary-mode copies.
const defaultBufSize = 4096

// ringCapacity bounds the per-sink backlog so one slow sink cannot
// stall the pump; once full, the oldest queued chunk is dropped.
const ringCapacity = 64

// Mode selects line-oriented or fixed-buffer copying.
type Mode int

const (
	// Binary copies in fixed-size chunks.
	Binary Mode = iota
	// Text copies line by line (each write includes the trailing newline).
	Text
)

// Tee pumps bytes from a source to a set of sinks until EOF, error, or
// Stop. Copying for all sinks of a Tee must use the same Mode.
type Tee struct {
	src   io.Reader
	mode  Mode
	queue []*sinkQueue

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// New starts a Tee copying src to sinks in mode. The pump and one
// forwarding goroutine per sink run immediately; call Join to wait
// for completion.
func New(src io.Reader, mode Mode, sinks ...io.Writer) *Tee {
	invariant.NotNil(src, "src")

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tee{
		src:    src,
		mode:   mode,
		cancel: cancel,
		done:   make(chan struct{}),
		queue:  make([]*sinkQueue, len(sinks)),
	}
	var wg sync.WaitGroup
	for i, w := range sinks {
		q := newSinkQueue(i, w)
		t.queue[i] = q
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.run(ctx)
		}()
	}
	go t.pump(ctx, &wg)
	return t
}

// Stop requests early termination at the next read boundary. It does
// not block; call Join afterward to observe completion.
func (t *Tee) Stop() {
	t.cancel()
}

// Join blocks until the pump and all sink forwarders have finished,
// returning any read error that halted the pump (write errors to
// individual sinks never surface here; they are logged and dropped).
func (t *Tee) Join() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Overflow returns the number of dropped chunks per sink due to
// backpressure, indexed the same as the sinks passed to New.
func (t *Tee) Overflow() []int64 {
	out := make([]int64, len(t.queue))
	for i, q := range t.queue {
		out[i] = q.dropped()
	}
	return out
}

func (t *Tee) pump(ctx context.Context, sinkWG *sync.WaitGroup) {
	defer close(t.done)
	defer func() {
		for _, q := range t.queue {
			q.close()
		}
		sinkWG.Wait()
	}()

	if t.mode == Text {
		scanner := bufio.NewScanner(t.src)
		scanner.Buffer(make([]byte, defaultBufSize), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := append(append([]byte(nil), scanner.Bytes()...), '\n')
			t.fanOut(line)
		}
		if err := scanner.Err(); err != nil {
			t.setErr(err)
		}
		return
	}

	buf := make([]byte, defaultBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := t.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.fanOut(chunk)
		}
		if err != nil {
			if err != io.EOF {
				t.setErr(err)
			}
			return
		}
	}
}

func (t *Tee) fanOut(p []byte) {
	for _, q := range t.queue {
		q.push(p)
	}
}

func (t *Tee) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// sinkQueue is a bounded, drop-oldest ring buffer feeding one sink
// writer from its own goroutine, so a stalled sink never blocks the
// pump or its siblings.
type sinkQueue struct {
	index  int
	w      io.Writer
	mu     sync.Mutex
	cond   *sync.Cond
	buf    [][]byte
	closed bool
	drops  int64
}

func newSinkQueue(index int, w io.Writer) *sinkQueue {
	q := &sinkQueue{index: index, w: w}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *sinkQueue) push(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.buf) >= ringCapacity {
		q.buf = q.buf[1:]
		q.drops++
	}
	q.buf = append(q.buf, p)
	q.cond.Signal()
}

func (q *sinkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *sinkQueue) dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

// run drains buf and writes each chunk to the sink until closed and
// drained. A write failure is logged and the loop continues with the
// next chunk, per spec §4.1 ("does not halt the pump").
func (q *sinkQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.buf) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		chunk := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()

		if _, err := q.w.Write(chunk); err != nil {
			log.Debug().Err(err).Int("sink", q.index).Msg("streamtee: sink write failed, continuing")
		}
	}
}
