package modbus

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rwirdemann/rtusensors"
	"go.bug.st/serial"
)

// Link is a byte oriented connection to an RS-485 bus. A Read that times out
// returns 0 bytes and no error. go.bug.st/serial ports implement Link as is.
type Link interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Drain() error
	Close() error
}

var errUnknownScheme = errors.New("unknown link scheme, want rtu:// or rtuovertcp://")

// OpenLink opens the link configured for a bus. rtu://<device> opens a serial
// port, rtuovertcp://<host:port> connects to an RTU-over-TCP gateway.
func OpenLink(s rtusensors.Serial) (Link, error) {
	scheme, addr, ok := strings.Cut(s.Url, "://")
	if !ok {
		return nil, fmt.Errorf("%s: %w", s.Url, errUnknownScheme)
	}
	switch scheme {
	case "rtu":
		return openSerial(addr, s)
	case "rtuovertcp":
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewConnLink(conn), nil
	}
	return nil, fmt.Errorf("%s: %w", s.Url, errUnknownScheme)
}

func openSerial(device string, s rtusensors.Serial) (Link, error) {
	mode := &serial.Mode{
		BaudRate: s.Speed,
		DataBits: s.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch s.Parity {
	case 1:
		mode.Parity = serial.EvenParity
	case 2:
		mode.Parity = serial.OddParity
	}
	if s.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}

// connLink adapts a stream connection to Link.
type connLink struct {
	conn    net.Conn
	timeout time.Duration
}

// NewConnLink wraps conn, e.g. a TCP connection to an RTU gateway or one end
// of net.Pipe.
func NewConnLink(conn net.Conn) Link {
	return &connLink{conn: conn, timeout: DefaultConfig.ResponseTimeout}
}

func (l *connLink) Read(p []byte) (int, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
		return 0, err
	}
	n, err := l.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (l *connLink) Write(p []byte) (int, error) {
	return l.conn.Write(p)
}

// ResetInputBuffer discards whatever has already arrived on the connection.
func (l *connLink) ResetInputBuffer() error {
	buf := make([]byte, 256)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := l.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (l *connLink) SetReadTimeout(t time.Duration) error {
	l.timeout = t
	return nil
}

// Drain is a no-op: writes on a connection return once the data is handed over.
func (l *connLink) Drain() error { return nil }

func (l *connLink) Close() error { return l.conn.Close() }
