package session

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrConnect matches every *ConnectError.
var ErrConnect = errors.New("unable to open socket")

// ConnectError reports a socket that could not be connected.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to open %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnect) hold.
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// Conn is a connected Unix stream socket. The descriptor stays in blocking
// mode; it is only read once poll reports it readable, so reads return what
// is buffered without blocking.
type Conn struct {
	fd     int
	path   string
	closed bool
}

// Dial connects to the Unix stream socket at path.
func Dial(path string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &ConnectError{Path: path, Err: err}
	}
	unix.CloseOnExec(fd)

	for {
		err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, &ConnectError{Path: path, Err: err}
	}
	return &Conn{fd: fd, path: path}, nil
}

// NewConn wraps an already connected stream socket descriptor, such as
// one end of a socketpair. The Conn takes ownership of fd.
func NewConn(fd int, name string) *Conn {
	return &Conn{fd: fd, path: name}
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Path returns the socket path the connection was made to.
func (c *Conn) Path() string { return c.path }

// Read reads into p.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// readable reports whether a read would return at once, with data or with
// end of stream.
func (c *Conn) readable() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

// Write writes all of p.
func (c *Conn) Write(p []byte) (int, error) {
	return writeAll(c.fd, p)
}

// Close closes the socket. Closing twice is not an error.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// writeAll writes p to fd, continuing after short writes.
func writeAll(fd int, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if n > 0 {
			written += n
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, unix.EIO
		}
	}
	return written, nil
}
