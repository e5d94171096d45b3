package grbl

import (
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var _ Transport = &Conn{}

// OpenSerial connects to grbl on a local serial port.
func OpenSerial(port string, baud int) (*Conn, error) {
	if baud <= 0 {
		baud = 115200
	}
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", port)
	}
	return NewConn(p), nil
}
