package modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/rwirdemann/rtusensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink answers the n-th write with responses[n]. A nil response is
// silence. Reads return 0 bytes once nothing is buffered, like a serial port
// after its read timeout.
type fakeLink struct {
	responses [][]byte
	writes    [][]byte
	rx        []byte
	resets    int
	writeErr  error
	closed    bool
}

func (l *fakeLink) Read(p []byte) (int, error) {
	n := copy(p, l.rx)
	l.rx = l.rx[n:]
	return n, nil
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	l.writes = append(l.writes, append([]byte(nil), p...))
	if i := len(l.writes) - 1; i < len(l.responses) {
		l.rx = append(l.rx, l.responses[i]...)
	}
	return len(p), nil
}

func (l *fakeLink) ResetInputBuffer() error {
	l.resets++
	l.rx = nil
	return nil
}

func (l *fakeLink) SetReadTimeout(time.Duration) error { return nil }
func (l *fakeLink) Drain() error                       { return nil }

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

// testConfig returns a policy that records its sleeps instead of sleeping.
func testConfig(attempts int, sleeps *[]time.Duration) Config {
	return Config{
		MaxAttempts:       attempts,
		InterAttemptDelay: 10 * time.Millisecond,
		ResponseTimeout:   100 * time.Millisecond,
		Sleep:             func(d time.Duration) { *sleeps = append(*sleeps, d) },
	}
}

func TestExecuteRead(t *testing.T) {
	link := &fakeLink{responses: [][]byte{mustHex(t, "01 03 02 01 B4 B9 A3")}}
	var sleeps []time.Duration

	res, err := Execute(link, NewReadRequest(1, 0x0004, 1), testConfig(3, &sleeps))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, mustHex(t, "01 03 00 04 00 01 C5 CB"), link.writes[0])

	v, err := Register(res.Data(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(436), v)
	assert.InDelta(t, 4.36, float64(v)/100, 1e-9)
	assert.Empty(t, sleeps)
}

func TestExecuteWriteEcho(t *testing.T) {
	echo := mustHex(t, "01 06 00 00 00 02 08 0B")
	link := &fakeLink{responses: [][]byte{echo}}
	var sleeps []time.Duration

	res, err := Execute(link, NewWriteRequest(1, 0x0000, 2), testConfig(3, &sleeps))
	require.NoError(t, err)
	assert.Equal(t, Frame(echo), res.Frame)
	assert.Equal(t, echo[2:6], []byte(res.Data()))
}

func TestExecuteWriteEchoMismatch(t *testing.T) {
	// valid crc, but the slave reports value 3 instead of 2
	bad := AppendCRC(mustHex(t, "01 06 00 00 00 03"))
	link := &fakeLink{responses: [][]byte{bad, bad, bad}}
	var sleeps []time.Duration

	_, err := Execute(link, NewWriteRequest(1, 0x0000, 2), testConfig(3, &sleeps))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEchoMismatch)
	assert.Len(t, link.writes, 3)
}

func TestExecuteRetryExhaustion(t *testing.T) {
	for _, attempts := range []int{1, 3, 5} {
		link := &fakeLink{}
		var sleeps []time.Duration

		_, err := Execute(link, NewReadRequest(7, 0x0000, 2), testConfig(attempts, &sleeps))
		require.Error(t, err)
		assert.Equal(t, ErrNoResponse, KindOf(err))
		assert.Len(t, link.writes, attempts)
		assert.Equal(t, attempts, link.resets)
		assert.Len(t, sleeps, attempts-1)
		for _, d := range sleeps {
			assert.Equal(t, 10*time.Millisecond, d)
		}

		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, attempts, te.Attempts)
		assert.Equal(t, uint8(7), te.Slave)
	}
}

func TestExecuteRecoversAfterRetry(t *testing.T) {
	good := mustHex(t, "01 03 02 01 B4 B9 A3")
	tests := []struct {
		name  string
		first []byte
	}{
		{"silence", nil},
		{"partial frame", good[:4]},
		{"crc mismatch", mustHex(t, "01 03 02 01 B4 B9 A4")},
		{"wrong slave", AppendCRC(mustHex(t, "02 03 02 01 B4"))},
		{"wrong function", AppendCRC(mustHex(t, "01 04 02 01 B4"))},
		{"wrong byte count", AppendCRC(mustHex(t, "01 03 04 01 B4"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{responses: [][]byte{tt.first, good}}
			var sleeps []time.Duration

			res, err := Execute(link, NewReadRequest(1, 0x0004, 1), testConfig(3, &sleeps))
			require.NoError(t, err)
			assert.Equal(t, 2, res.Attempts)
			assert.Len(t, link.writes, 2)
			assert.Len(t, sleeps, 1)
		})
	}
}

func TestExecuteFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
		kind     Error
	}{
		{"crc mismatch", mustHex(t, "01 03 02 01 B4 B9 A4"), ErrCrcMismatch},
		{"wrong slave", AppendCRC(mustHex(t, "02 03 02 01 B4")), ErrUnexpectedFunctionOrAddress},
		{"short", mustHex(t, "01 03 02"), ErrNoResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{responses: [][]byte{tt.response, tt.response}}
			var sleeps []time.Duration

			_, err := Execute(link, NewReadRequest(1, 0x0004, 1), testConfig(2, &sleeps))
			assert.Equal(t, tt.kind, KindOf(err))
			assert.ErrorIs(t, err, tt.kind)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.response, te.Last)
		})
	}
}

func TestExecuteException(t *testing.T) {
	link := &fakeLink{responses: [][]byte{AppendCRC(mustHex(t, "01 83 02"))}}
	var sleeps []time.Duration

	_, err := Execute(link, NewReadRequest(1, 0x0100, 2), testConfig(3, &sleeps))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrException)
	assert.Len(t, link.writes, 1)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ExceptionIllegalDataAddress, te.Exception)
	assert.Contains(t, err.Error(), "illegal data address")
}

func TestExecuteExceptionWithBadCRCIsRetried(t *testing.T) {
	bad := AppendCRC(mustHex(t, "01 86 03"))
	bad[4] ^= 0xFF
	link := &fakeLink{responses: [][]byte{bad, mustHex(t, "01 06 00 00 00 02 08 0B")}}
	var sleeps []time.Duration

	res, err := Execute(link, NewWriteRequest(1, 0x0000, 2), testConfig(3, &sleeps))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecuteProtocolViolation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"broadcast", NewReadRequest(0, 0, 1)},
		{"slave above range", NewReadRequest(248, 0, 1)},
		{"zero count", NewReadRequest(1, 0, 0)},
		{"count above limit", NewReadRequest(1, 0, 126)},
		{"unsupported function", Request{Slave: 1, Function: 0x10, Register: 0, Value: 1}},
		{"wrong response length", Request{Slave: 1, Function: FuncReadHoldingRegisters, Value: 2, ResponseLength: 7}},
		{"wrong write length", Request{Slave: 1, Function: FuncWriteSingleRegister, ResponseLength: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{}
			var sleeps []time.Duration

			_, err := Execute(link, tt.req, testConfig(3, &sleeps))
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Empty(t, link.writes)
			assert.Zero(t, link.resets)
		})
	}
}

func TestExecuteReservedAddress(t *testing.T) {
	req := NewReadRequest(0xFF, 0x0000, 1)
	req.AllowReserved = true
	link := &fakeLink{responses: [][]byte{AppendCRC(mustHex(t, "05 03 02 00 05"))}}
	var sleeps []time.Duration

	res, err := Execute(link, req, testConfig(3, &sleeps))
	require.NoError(t, err)
	assert.Equal(t, uint8(5), res.Frame.Slave())
}

func TestExecuteIOError(t *testing.T) {
	link := &fakeLink{writeErr: errors.New("device unplugged")}
	var sleeps []time.Duration

	_, err := Execute(link, NewReadRequest(1, 0, 1), testConfig(5, &sleeps))
	assert.Equal(t, ErrIO, KindOf(err))
	assert.ErrorContains(t, err, "device unplugged")
	assert.Empty(t, sleeps)
}

func TestExecuteDiscardsStaleInput(t *testing.T) {
	link := &fakeLink{
		rx:        mustHex(t, "01 03 02 00 01 79 84"),
		responses: [][]byte{mustHex(t, "01 03 02 01 B4 B9 A3")},
	}
	var sleeps []time.Duration

	res, err := Execute(link, NewReadRequest(1, 0x0004, 1), testConfig(1, &sleeps))
	require.NoError(t, err)
	v, _ := Register(res.Data(), 0)
	assert.Equal(t, uint16(436), v)
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Zero(t, cfg.InterAttemptDelay)
	assert.Equal(t, time.Second, cfg.ResponseTimeout)
	assert.NotNil(t, cfg.Sleep)

	cfg = ConfigFromSerial(rtusensors.Serial{})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.InterAttemptDelay)
	assert.Equal(t, time.Second, cfg.ResponseTimeout)

	cfg = ConfigFromSerial(rtusensors.Serial{Attempts: 5, Delay: 20, Timeout: 300})
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.InterAttemptDelay)
	assert.Equal(t, 300*time.Millisecond, cfg.ResponseTimeout)
}

func TestExecuteZeroDelay(t *testing.T) {
	link := &fakeLink{}
	var sleeps []time.Duration
	cfg := testConfig(3, &sleeps)
	cfg.InterAttemptDelay = 0

	_, err := Execute(link, NewReadRequest(1, 0x0004, 1), cfg)
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, []time.Duration{0, 0}, sleeps)

	sleeps = nil
	bus := NewBus("ttyS2", &fakeLink{}, Config{MaxAttempts: 2, Sleep: cfg.Sleep})
	_, err = bus.Execute(NewReadRequest(1, 0x0004, 1), bus.Config())
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, []time.Duration{0}, sleeps)
}

func TestExecuteRetryExhaustionOneByteShort(t *testing.T) {
	for _, attempts := range []int{1, 2, 4} {
		// 436 in register 0x0004, last crc byte missing
		short := mustHex(t, "01 03 02 01 B4 B9")
		responses := make([][]byte, attempts)
		for i := range responses {
			responses[i] = short
		}
		link := &fakeLink{responses: responses}
		var sleeps []time.Duration

		_, err := Execute(link, NewReadRequest(1, 0x0004, 1), testConfig(attempts, &sleeps))
		assert.ErrorIs(t, err, ErrNoResponse)
		assert.Len(t, link.writes, attempts)
		assert.Len(t, sleeps, attempts-1)

		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, attempts, te.Attempts)
		assert.Equal(t, short, te.Last)
	}
}
