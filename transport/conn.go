package transport

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/seamhand/internal/bufpipe"
)

// FromConn adapts any io.ReadWriteCloser (most commonly a net.Conn) into a
// Transport. It runs two pump goroutines, grounded in the
// recvLoop/sendLoop split github.com/xtaci/smux uses around its own
// net.Conn: one blocks on the underlying Read and feeds an inbound
// bufpipe.Pipe so TryRead can be non-blocking, the other drains an
// outbound bufpipe.Pipe with blocking Writes so TryWrite can be
// non-blocking too. Backpressure on the inbound side falls naturally out
// of the bounded pipe: if nothing drains it, the read pump blocks before
// issuing the next underlying Read.
func FromConn(conn io.ReadWriteCloser, id uint16, label string) Transport {
	c := &connTransport{
		conn:  conn,
		id:    id,
		label: label,
		in:    bufpipe.New(32 * 1024),
		out:   bufpipe.New(32 * 1024),
	}
	go c.pumpIn()
	go c.pumpOut()
	return c
}

type connTransport struct {
	conn  io.ReadWriteCloser
	id    uint16
	label string

	in  *bufpipe.Pipe
	out *bufpipe.Pipe

	closeOnce sync.Once
}

func (c *connTransport) pumpIn() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if _, werr := c.in.Write(buf[:n]); werr != nil {
				c.teardown(werr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.in.CloseWrite()
			} else {
				c.teardown(err)
			}
			return
		}
	}
}

func (c *connTransport) pumpOut() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.out.Read(buf)
		if n > 0 {
			if _, werr := c.conn.Write(buf[:n]); werr != nil {
				c.teardown(werr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			c.teardown(err)
			return
		}
	}
}

func (c *connTransport) teardown(err error) {
	c.closeOnce.Do(func() {
		c.in.Close(err)
		c.out.Close(err)
		_ = c.conn.Close()
	})
}

func (c *connTransport) Read(p []byte) (int, error) {
	n, err := c.in.Read(p)
	return n, translateErr(err)
}

func (c *connTransport) TryRead(p []byte) (int, error) {
	n, err := c.in.TryRead(p)
	if err == bufpipe.ErrWouldBlock {
		return n, ErrWouldBlock
	}
	return n, translateErr(err)
}

func (c *connTransport) Write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	return n, translateErr(err)
}

func (c *connTransport) TryWrite(p []byte) (int, error) {
	n, err := c.out.TryWrite(p)
	if err == bufpipe.ErrWouldBlock {
		return n, ErrWouldBlock
	}
	return n, translateErr(err)
}

func (c *connTransport) Flush() error { return nil }

func (c *connTransport) Shutdown() error {
	err := c.out.CloseWrite()
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return err
}

func (c *connTransport) ID() uint16    { return c.id }
func (c *connTransport) Label() string { return c.label }

func translateErr(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return errors.Wrap(err, "transport")
}
