package modbus

import "sync"

type Counter int

const (
	CntTransactions Counter = iota
	CntAttempts
	CntSuccess
	CntIO
	CntNoResponse
	CntCrcMismatch
	CntUnexpected
	CntEchoMismatch
	CntException
	CntProtocolViolation

	CntNum = iota
)

var counterNames = [CntNum]string{
	"transactions",
	"attempts",
	"success",
	"io_error",
	"no_response",
	"crc_mismatch",
	"unexpected_function_or_address",
	"echo_mismatch",
	"exception",
	"protocol_violation",
}

func (c Counter) String() string {
	if c < 0 || int(c) >= CntNum {
		return "unknown"
	}
	return counterNames[c]
}

var kindCounters = map[Error]Counter{
	ErrIO:                          CntIO,
	ErrNoResponse:                  CntNoResponse,
	ErrCrcMismatch:                 CntCrcMismatch,
	ErrUnexpectedFunctionOrAddress: CntUnexpected,
	ErrEchoMismatch:                CntEchoMismatch,
	ErrException:                   CntException,
	ErrProtocolViolation:           CntProtocolViolation,
}

// Counters counts transaction outcomes of a bus.
type Counters struct {
	sync.Mutex
	ca [CntNum]uint64
}

func (c *Counters) Inc(cnt Counter) {
	c.Add(cnt, 1)
}

func (c *Counters) Add(cnt Counter, n uint64) {
	c.Lock()
	defer c.Unlock()
	if cnt < 0 || int(cnt) >= CntNum {
		return
	}
	c.ca[cnt] += n
}

func (c *Counters) Get(cnt Counter) uint64 {
	c.Lock()
	defer c.Unlock()
	if cnt < 0 || int(cnt) >= CntNum {
		return 0
	}
	return c.ca[cnt]
}

func (c *Counters) GetAll() []uint64 {
	c.Lock()
	defer c.Unlock()
	r := make([]uint64, CntNum)
	copy(r, c.ca[:])
	return r
}

// record counts one finished transaction.
func (c *Counters) record(res Response, err error) {
	c.Inc(CntTransactions)
	if err == nil {
		c.Add(CntAttempts, uint64(res.Attempts))
		c.Inc(CntSuccess)
		return
	}
	if te, ok := err.(*TransportError); ok {
		c.Add(CntAttempts, uint64(te.Attempts))
	}
	if cnt, ok := kindCounters[KindOf(err)]; ok {
		c.Inc(cnt)
	}
}
