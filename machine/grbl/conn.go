package grbl

import (
	"bufio"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// bufferSize is the grbl serial receive buffer.
const bufferSize = 128

// ErrGrblReset will be returned from write methods if a reset is encountered
// before all commands are acknowledged.
var ErrGrblReset = errors.New("grbl reset")

// Conn is a direct connection to a Grbl controller. Lines are streamed
// with character counting so grbl's receive buffer never overflows.
type Conn struct {
	rw io.ReadWriter

	lines   chan string
	ackCh   chan error
	resetCh chan struct{}
	closeCh chan struct{}

	closeOnce sync.Once
	mx        sync.Mutex // port writes
	wMx       sync.Mutex // line writers

	deviceBuf int
	lineSize  []int

	wroteLines int64
	readLines  int64
}

// NewConn creates a new Conn using the provided ReadWriter for data and
// starts reading from it.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:      rw,
		lines:   make(chan string, 64),
		ackCh:   make(chan error, bufferSize),
		resetCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close will abort any in-progress writes and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// Lines returns every line received from the controller. It is closed
// when reading fails.
func (c *Conn) Lines() <-chan string { return c.lines }

func (c *Conn) readLoop() {
	defer close(c.lines)
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		data := strings.TrimSpace(scan.Text())
		switch {
		case data == "ok":
			c.ack(nil)
		case strings.HasPrefix(data, "error:"):
			c.ack(errors.New(data))
		case strings.HasPrefix(data, "Grbl"):
			select {
			case c.resetCh <- struct{}{}:
			default:
			}
		}

		select {
		case c.lines <- data:
		case <-c.closeCh:
			return
		}
	}
	if err := scan.Err(); err != nil {
		log.Println("ERROR: read from port:", err)
	}
}

func (c *Conn) ack(err error) {
	select {
	case c.ackCh <- err:
	default:
		log.Println("ERROR: unexpected ack:", err)
	}
}

func (c *Conn) recordBufferSpace(n int) int64 {
	c.deviceBuf += n
	c.wroteLines++
	c.lineSize = append(c.lineSize, n)
	return c.wroteLines
}

func (c *Conn) waitForBufferSpace(n int) error {
	for c.deviceBuf+n > bufferSize {
		err := c.next()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) reset() error {
	c.deviceBuf = 0
	c.lineSize = nil
	c.readLines = c.wroteLines
	return ErrGrblReset
}

// next waits for one acknowledgement.
func (c *Conn) next() error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	case <-c.resetCh:
		return c.reset()
	default:
	}

	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	case <-c.resetCh:
		return c.reset()
	case e := <-c.ackCh:
		c.readLines++
		if len(c.lineSize) > 0 {
			c.deviceBuf -= c.lineSize[0]
			c.lineSize = c.lineSize[1:]
		}
		return e
	}
}

func (c *Conn) waitForLine(id int64) (err error) {
	for c.readLines < id {
		e := c.next()
		if err == nil {
			err = e
		}
		if e == ErrGrblReset || e == io.ErrClosedPipe {
			return e
		}
	}
	return err
}

// WriteLine sends one line and returns once grbl acknowledged it.
func (c *Conn) WriteLine(line string) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()

	data := []byte(strings.TrimSpace(line) + "\n")
	if len(data) > bufferSize {
		return errors.Errorf("line too long for grbl buffer (%d bytes)", len(data))
	}
	err := c.waitForBufferSpace(len(data))
	if err != nil {
		return err
	}

	c.mx.Lock()
	_, err = c.rw.Write(data)
	c.mx.Unlock()
	if err != nil {
		return errors.Wrap(err, "write line")
	}
	return c.waitForLine(c.recordBufferSpace(len(data)))
}

// WriteByte will write directly to the serial device without
// accounting for buffering.
//
// Use for realtime commands like `?`.
func (c *Conn) WriteByte(p byte) (err error) {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	c.mx.Lock()
	_, err = c.rw.Write([]byte{p})
	c.mx.Unlock()
	return errors.Wrap(err, "write realtime command")
}
