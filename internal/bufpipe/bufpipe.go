// Package bufpipe implements a bounded, in-process one-way byte pipe; a
// pair of them makes a duplex channel.
//
// It plays the role that tokio::io::duplex() plays in the Rust prototype
// this library's design is grounded on: a fixed-capacity queue standing in
// for a transport, used both to back the divider's child sub-channels and
// (wrapped by transport.FromConn) to give a blocking net.Conn a
// non-blocking TryRead/TryWrite surface.
//
// The non-blocking try-then-wait loop and the single-slot "wakeup channel"
// are the same idiom github.com/xtaci/smux uses in stream.go
// (tryReadV1/waitRead/wakeupReader): a buffered channel of size 1, sent to
// with a non-blocking select so a burst of wakeups collapses into one.
package bufpipe

import (
	"errors"
	"io"
	"sync"

	"github.com/xtaci/seamhand/internal/ringbuf"
)

// ErrWouldBlock is returned by TryRead/TryWrite when no progress can be
// made without waiting.
var ErrWouldBlock = errors.New("bufpipe: would block")

// ErrInterrupted is returned by a blocked Read that was woken by Interrupt
// rather than by new data, closure, or an error. It never drops or
// reorders buffered bytes: the next Read call observes the pipe's state
// exactly as if the interrupted call had not happened.
var ErrInterrupted = errors.New("bufpipe: interrupted")

const defaultCapacity = 1024

// Pipe is a bounded FIFO byte queue with one reader and one writer side.
// All exported methods are safe for concurrent use by one reader goroutine
// and one writer goroutine; concurrent readers (or concurrent writers) on
// the same side are not supported, since each half of a Transport has
// exactly one owning goroutine at a time.
type Pipe struct {
	mu       sync.Mutex
	chunks   *ringbuf.Ring[[]byte]
	buffered int
	capacity int

	readClosed  bool
	writeClosed bool
	closeErr    error // non-nil once Close has been called

	readWake  chan struct{}
	writeWake chan struct{}
	interrupt chan struct{}
}

// New returns a Pipe bounded to capacity bytes of buffered, unread data.
// A capacity <= 0 uses a default of 1024 bytes.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Pipe{
		chunks:    ringbuf.New[[]byte](8),
		capacity:  capacity,
		readWake:  make(chan struct{}, 1),
		writeWake: make(chan struct{}, 1),
		interrupt: make(chan struct{}, 1),
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TryRead performs one non-blocking read attempt. It returns ErrWouldBlock
// if the pipe is empty but still open for writing.
func (p *Pipe) TryRead(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buffered > 0 {
		n := 0
		for n < len(b) {
			head, ok := p.chunks.Front()
			if !ok {
				break
			}
			chunk := *head
			copied := copy(b[n:], chunk)
			n += copied
			p.buffered -= copied
			if copied == len(chunk) {
				p.chunks.Pop()
				continue
			}
			// b is full; leave the unconsumed remainder at the head,
			// preserving order for the next Read.
			*head = chunk[copied:]
			break
		}
		if n > 0 {
			wake(p.writeWake)
			return n, nil
		}
	}

	if p.readClosed {
		return 0, p.closeErr
	}
	if p.writeClosed {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

// Read blocks until at least one byte is available, the pipe reaches
// end-of-stream, it is interrupted via Interrupt, or it errors.
func (p *Pipe) Read(b []byte) (int, error) {
	for {
		n, err := p.TryRead(b)
		if err != ErrWouldBlock {
			return n, err
		}
		if werr := p.waitRead(); werr != nil {
			return 0, werr
		}
	}
}

func (p *Pipe) waitRead() error {
	p.mu.Lock()
	ch := p.readWake
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-p.interrupt:
		return ErrInterrupted
	}
}

// Interrupt wakes exactly one blocked Read call (if any is in flight, or
// the next one to start) without affecting buffered data or pipe state.
// The coordinator uses this to wake a facade parked reading the primary
// data sub-channel once it publishes or fails an upgrade, even though
// nothing changed about the data sub-channel itself.
func (p *Pipe) Interrupt() {
	wake(p.interrupt)
}

// TryWrite performs one non-blocking write attempt, writing as many bytes
// as currently fit within capacity (possibly zero).
func (p *Pipe) TryWrite(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readClosed {
		return 0, p.closeErr
	}
	if p.writeClosed {
		return 0, io.ErrClosedPipe
	}
	if len(b) == 0 {
		return 0, nil
	}

	free := p.capacity - p.buffered
	if free <= 0 {
		return 0, ErrWouldBlock
	}
	n := len(b)
	if n > free {
		n = free
	}
	chunk := make([]byte, n)
	copy(chunk, b[:n])
	p.chunks.Push(chunk)
	p.buffered += n
	wake(p.readWake)
	return n, nil
}

// Write blocks until all of b has been queued, or the pipe closes.
func (p *Pipe) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := p.TryWrite(b[total:])
		total += n
		if err != nil {
			if err == ErrWouldBlock {
				if werr := p.waitWrite(); werr != nil {
					return total, werr
				}
				continue
			}
			return total, err
		}
	}
	return total, nil
}

func (p *Pipe) waitWrite() error {
	p.mu.Lock()
	ch := p.writeWake
	p.mu.Unlock()
	<-ch
	return nil
}

// CloseWrite signals end-of-stream to the reader once buffered bytes are
// drained. It does not discard already-buffered bytes.
func (p *Pipe) CloseWrite() error {
	p.mu.Lock()
	if p.writeClosed {
		p.mu.Unlock()
		return nil
	}
	p.writeClosed = true
	p.mu.Unlock()
	wake(p.readWake)
	wake(p.writeWake)
	return nil
}

// Close tears the pipe down in both directions immediately, discarding any
// buffered-but-unread bytes. Pending and future Read/Write calls observe
// err (io.ErrClosedPipe if err is nil).
func (p *Pipe) Close(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	p.mu.Lock()
	if p.readClosed {
		p.mu.Unlock()
		return
	}
	p.readClosed = true
	p.writeClosed = true
	p.closeErr = err
	p.chunks = ringbuf.New[[]byte](8)
	p.buffered = 0
	p.mu.Unlock()
	wake(p.readWake)
	wake(p.writeWake)
}

// Buffered reports the number of bytes currently queued and unread.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}
