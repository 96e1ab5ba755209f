package bufpipe

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryReadWouldBlockOnEmpty(t *testing.T) {
	p := New(64)
	buf := make([]byte, 8)
	n, err := p.TryRead(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, ErrWouldBlock, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	p := New(64)
	n, err := p.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestReadAcrossMultipleChunksPreservesOrder(t *testing.T) {
	p := New(64)
	_, err := p.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = p.Write([]byte("cd"))
	require.NoError(t, err)

	buf := make([]byte, 3)
	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "d", string(buf[:n]))
}

func TestCloseWriteSignalsEOFAfterDrain(t *testing.T) {
	p := New(64)
	_, err := p.Write([]byte("xy"))
	require.NoError(t, err)
	require.NoError(t, p.CloseWrite())

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(buf[:n]))

	n, err = p.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestWriteBlocksUntilCapacityFrees(t *testing.T) {
	p := New(4)
	_, err := p.Write([]byte("abcd"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	writeDone := make(chan struct{})
	go func() {
		defer wg.Done()
		_, werr := p.Write([]byte("ef"))
		assert.NoError(t, werr)
		close(writeDone)
	}()

	select {
	case <-writeDone:
		t.Fatal("write should have blocked while the pipe was full")
	case <-time.After(20 * time.Millisecond):
	}

	buf := make([]byte, 4)
	_, err = p.Read(buf)
	require.NoError(t, err)

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("write did not unblock after capacity freed")
	}
	wg.Wait()
}

func TestInterruptWakesBlockedReadWithoutLosingData(t *testing.T) {
	p := New(64)

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 8)
		_, err := p.Read(buf)
		assert.Equal(t, ErrInterrupted, err)
		close(readDone)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Interrupt()

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("Read was not woken by Interrupt")
	}

	_, err := p.Write([]byte("later"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "later", string(buf[:n]))
}

func TestCloseDiscardsBufferedDataAndFailsBothSides(t *testing.T) {
	p := New(64)
	_, err := p.Write([]byte("buffered"))
	require.NoError(t, err)

	p.Close(nil)

	buf := make([]byte, 16)
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
