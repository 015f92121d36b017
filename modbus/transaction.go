package modbus

import (
	"bytes"
	"fmt"
	"time"
)

// Request describes one request/response exchange with a single slave.
type Request struct {
	Slave    uint8
	Function FunctionCode
	Register uint16
	Value    uint16 // register count for reads, register value for writes

	// ResponseLength is the exact number of bytes expected back. Zero means
	// derive it from Function and Value.
	ResponseLength int

	// AllowReserved permits slave 0 and 248..255 for sensors whose protocol
	// documents such an address as a query address. The response may then
	// come from any slave.
	AllowReserved bool
}

func NewReadRequest(slave uint8, register, count uint16) Request {
	return Request{
		Slave:          slave,
		Function:       FuncReadHoldingRegisters,
		Register:       register,
		Value:          count,
		ResponseLength: ReadResponseLength(count),
	}
}

func NewWriteRequest(slave uint8, register, value uint16) Request {
	return Request{
		Slave:          slave,
		Function:       FuncWriteSingleRegister,
		Register:       register,
		Value:          value,
		ResponseLength: WriteResponseLength,
	}
}

// expectedLength returns the response length the protocol defines for r.
func (r Request) expectedLength() int {
	if r.Function == FuncWriteSingleRegister {
		return WriteResponseLength
	}
	return ReadResponseLength(r.Value)
}

// Validate checks the request parameters before anything goes on the wire.
func (r Request) Validate() error {
	if !ValidSlave(r.Slave) && !r.AllowReserved {
		return violation(r, "slave address %d outside %d..%d", r.Slave, SlaveMin, SlaveMax)
	}
	switch r.Function {
	case FuncReadHoldingRegisters:
		if r.Value == 0 || r.Value > MaxReadCount {
			return violation(r, "register count %d outside 1..%d", r.Value, MaxReadCount)
		}
	case FuncWriteSingleRegister:
	default:
		return violation(r, "unsupported function code 0x%02X", uint8(r.Function))
	}
	if r.ResponseLength != 0 && r.ResponseLength != r.expectedLength() {
		return violation(r, "response length %d, protocol defines %d", r.ResponseLength, r.expectedLength())
	}
	return nil
}

// Frame returns the request frame.
func (r Request) Frame() Frame {
	return BuildFrame(r.Slave, r.Function, r.Register, r.Value)
}

// Response is a validated response frame.
type Response struct {
	Frame    Frame
	Attempts int
}

// Data returns the data bytes of the response: the register contents of a
// read (byte count stripped) or the echoed register and value of a write.
func (r Response) Data() []byte {
	p := r.Frame.Payload()
	if r.Frame.Function() == FuncReadHoldingRegisters {
		return p[1:]
	}
	return p
}

// Executor runs transactions. Bus and Session implement it.
type Executor interface {
	Execute(req Request, cfg Config) (Response, error)
}

// Execute performs one transaction on link: send the request, read the
// response, validate it, and retry failed attempts up to cfg.MaxAttempts.
// I/O errors, exception responses and invalid requests are returned without
// retry. The caller must own link for the duration of the call.
func Execute(link Link, req Request, cfg Config) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if req.ResponseLength == 0 {
		req.ResponseLength = req.expectedLength()
	}
	cfg = cfg.withDefaults()
	tx := req.Frame()

	failure := &TransportError{Slave: req.Slave, Function: req.Function}
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			cfg.Sleep(cfg.InterAttemptDelay)
		}
		failure.Attempts = attempt

		// SENDING
		if err := send(link, tx); err != nil {
			failure.Kind, failure.Err = ErrIO, err
			return Response{}, failure
		}

		// AWAITING_RESPONSE
		rx, err := receive(link, req, cfg.ResponseTimeout)
		failure.Last = rx
		if err != nil {
			failure.Kind, failure.Err = ErrIO, err
			return Response{}, failure
		}

		// VALIDATING
		kind, exception := validate(req, tx, rx)
		switch {
		case kind == "":
			return Response{Frame: rx, Attempts: attempt}, nil
		case kind == ErrException:
			failure.Kind, failure.Exception = kind, exception
			return Response{}, failure
		case !kind.retryable():
			failure.Kind = kind
			return Response{}, failure
		}
		failure.Kind = kind
	}
	return Response{}, failure
}

// send clears stale input so that a late answer to an earlier attempt is not
// taken for the response, then writes and flushes the request.
func send(link Link, tx Frame) error {
	if err := link.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if _, err := link.Write(tx); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := link.Drain(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// receive reads up to req.ResponseLength bytes within timeout. A short result
// is not an error. Once the function byte shows an exception the read stops
// at the exception frame length.
func receive(link Link, req Request, timeout time.Duration) (Frame, error) {
	want := req.ResponseLength
	buf := make([]byte, want)
	got := 0
	deadline := time.Now().Add(timeout)
	for got < want {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := link.SetReadTimeout(remaining); err != nil {
			return Frame(buf[:got]), fmt.Errorf("set read timeout: %w", err)
		}
		n, err := link.Read(buf[got:want])
		got += n
		if err != nil {
			if isTimeout(err) {
				break
			}
			return Frame(buf[:got]), fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			break
		}
		if got >= 2 && FunctionCode(buf[1])&exceptionFlag != 0 && want > exceptionLength {
			want = exceptionLength
		}
	}
	return Frame(buf[:got]), nil
}

func validate(req Request, tx, rx Frame) (Error, ExceptionCode) {
	if len(rx) == exceptionLength && rx.Function() == req.Function|exceptionFlag {
		if !rx.CheckCRC() {
			return ErrCrcMismatch, 0
		}
		if !req.answeredBy(rx.Slave()) {
			return ErrUnexpectedFunctionOrAddress, 0
		}
		return ErrException, ExceptionCode(rx[2])
	}
	if len(rx) < req.ResponseLength {
		return ErrNoResponse, 0
	}
	if !rx.CheckCRC() {
		return ErrCrcMismatch, 0
	}
	if !req.answeredBy(rx.Slave()) || rx.Function() != req.Function {
		return ErrUnexpectedFunctionOrAddress, 0
	}
	switch req.Function {
	case FuncReadHoldingRegisters:
		if int(rx[2]) != req.ResponseLength-3-crcLength {
			return ErrUnexpectedFunctionOrAddress, 0
		}
	case FuncWriteSingleRegister:
		if !bytes.Equal(rx.Payload(), tx.Payload()) {
			return ErrEchoMismatch, 0
		}
	}
	return "", 0
}

func (r Request) answeredBy(slave uint8) bool {
	if !ValidSlave(r.Slave) {
		return true
	}
	return slave == r.Slave
}
