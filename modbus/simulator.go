package modbus

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Append(text string)
}

type slogLogger struct{}

func (slogLogger) Append(text string) { slog.Info(text) }

// Simulator answers Modbus RTU requests on behalf of a set of slaves. It
// serves RTU frames over TCP (rtuovertcp://) or over any io.ReadWriter.
// Offline slaves stay silent, like a sensor without power.
type Simulator struct {
	logger      Logger
	mu          sync.Mutex
	tcpListener net.Listener
	slaves      map[uint8]*simSlave
	corrupt     int
}

type simSlave struct {
	online bool
	mem    *MemoryMap
}

func NewSimulator(logger Logger) *Simulator {
	if logger == nil {
		logger = slogLogger{}
	}
	return &Simulator{logger: logger, slaves: make(map[uint8]*simSlave)}
}

// AddSlave registers an online slave.
func (s *Simulator) AddSlave(address uint8, mem *MemoryMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[address] = &simSlave{online: true, mem: mem}
}

func (s *Simulator) Connect(address uint8) {
	s.setOnline(address, true)
}

func (s *Simulator) Disconnect(address uint8) {
	s.setOnline(address, false)
}

func (s *Simulator) setOnline(address uint8, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slaves[address]; ok {
		sl.online = online
	}
}

func (s *Simulator) Online(address uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slaves[address]
	return ok && sl.online
}

// Memory returns the registers of the slave at address.
func (s *Simulator) Memory(address uint8) (*MemoryMap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slaves[address]
	if !ok {
		return nil, false
	}
	return sl.mem, true
}

// Slaves returns the addresses of all slaves in ascending order.
func (s *Simulator) Slaves() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var addresses []uint8
	for a := range s.slaves {
		addresses = append(addresses, a)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
	return addresses
}

// CorruptNext damages the crc of the next n responses.
func (s *Simulator) CorruptNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = n
}

// Start listens on url (rtuovertcp://host:port) and serves every client that
// connects.
func (s *Simulator) Start(url string) (err error) {
	addr, ok := strings.CutPrefix(url, "rtuovertcp://")
	if !ok {
		return fmt.Errorf("%s: %w", url, errUnknownScheme)
	}
	s.tcpListener, err = net.Listen("tcp", addr)
	if err == nil {
		go s.acceptTCPClients()
	}
	return
}

// Addr returns the listening address after Start.
func (s *Simulator) Addr() net.Addr {
	return s.tcpListener.Addr()
}

func (s *Simulator) Stop() error {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Close()
}

func (s *Simulator) acceptTCPClients() {
	for {
		sock, err := s.tcpListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("failed to accept client connection", "err", err)
			continue
		}
		s.log("client %s connected", sock.RemoteAddr())
		go func() {
			defer sock.Close()
			if err := s.Serve(sock); err != nil && !errors.Is(err, io.EOF) {
				slog.Warn("client connection closed", "remote", sock.RemoteAddr(), "err", err)
			}
		}()
	}
}

// Serve answers requests read from rw until reading fails.
func (s *Simulator) Serve(rw io.ReadWriter) error {
	for {
		req, err := readRTUFrame(rw)
		if err != nil {
			if errors.Is(err, ErrCrcMismatch) {
				s.log("req dropped: %v", err)
				continue
			}
			return err
		}
		s.log("req: slave id: %d fc: %X payload: % X", req.unitId, req.functionCode, req.payload)

		res := s.handle(req)
		if res == nil {
			continue
		}
		s.log("res: slave id: %d fc: %X payload: % X", res.unitId, res.functionCode, res.payload)

		if _, err := rw.Write(s.assembleRTUFrame(res)); err != nil {
			return err
		}
	}
}

type pdu struct {
	unitId       uint8
	functionCode FunctionCode
	payload      []byte
}

// handle returns the response to req, or nil if no slave answers.
func (s *Simulator) handle(req *pdu) *pdu {
	s.mu.Lock()
	address, sl := s.lookup(req.unitId)
	s.mu.Unlock()
	if sl == nil {
		s.log("req: slave id: %d is offline", req.unitId)
		return nil
	}

	res := &pdu{unitId: address, functionCode: req.functionCode}
	register := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	value := bytesToUint16(BIG_ENDIAN, req.payload[2:4])

	switch req.functionCode {
	case FuncReadHoldingRegisters:
		if value == 0 || value > MaxReadCount {
			return exception(res, ExceptionIllegalDataValue)
		}
		values, ok := sl.mem.readHolding(register, value)
		if !ok {
			return exception(res, ExceptionIllegalDataAddress)
		}
		res.payload = []byte{byte(2 * len(values))}
		for _, v := range values {
			res.payload = append(res.payload, uint16ToBytes(BIG_ENDIAN, v)...)
		}
		return res

	case FuncWriteSingleRegister:
		to, relocate := sl.mem.relocation(register, value)
		if relocate && (to > 0xFF || !ValidSlave(uint8(to)) || s.taken(address, uint8(to))) {
			return exception(res, ExceptionIllegalDataValue)
		}
		if !sl.mem.writeHolding(register, value) {
			return exception(res, ExceptionIllegalDataAddress)
		}
		res.payload = append([]byte(nil), req.payload...)
		if relocate && uint8(to) != address {
			sl.mem.moved(uint8(to))
			s.move(address, uint8(to))
		}
		return res
	}
	return exception(res, ExceptionIllegalFunction)
}

// lookup finds the online slave addressed by unitId. A reserved address
// (248..255) is answered by the only online slave, if there is exactly one.
// Broadcasts are never answered.
func (s *Simulator) lookup(unitId uint8) (uint8, *simSlave) {
	if unitId == SlaveBroadcast {
		return 0, nil
	}
	if ValidSlave(unitId) {
		if sl, ok := s.slaves[unitId]; ok && sl.online {
			return unitId, sl
		}
		return 0, nil
	}
	var found *simSlave
	var address uint8
	for a, sl := range s.slaves {
		if !sl.online {
			continue
		}
		if found != nil {
			return 0, nil
		}
		found, address = sl, a
	}
	return address, found
}

// taken reports whether another slave than self already uses address.
func (s *Simulator) taken(self, address uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slaves[address]
	return ok && address != self
}

func (s *Simulator) move(from, to uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[to] = s.slaves[from]
	delete(s.slaves, from)
	s.log("slave %d moved to address %d", from, to)
}

func exception(res *pdu, code ExceptionCode) *pdu {
	res.functionCode |= exceptionFlag
	res.payload = []byte{byte(code)}
	return res
}

// readRTUFrame reads one 8 byte request frame.
func readRTUFrame(r io.Reader) (*pdu, error) {
	rxbuf := make([]byte, requestLength)
	if _, err := io.ReadFull(r, rxbuf); err != nil {
		return nil, err
	}
	frame := Frame(rxbuf)
	if !frame.CheckCRC() {
		return nil, fmt.Errorf("request % X: %w", rxbuf, ErrCrcMismatch)
	}
	return &pdu{
		unitId:       frame.Slave(),
		functionCode: frame.Function(),
		payload:      frame.Payload(),
	}, nil
}

// assembleRTUFrame turns a PDU into an RTU frame (address + PDU + crc).
func (s *Simulator) assembleRTUFrame(p *pdu) []byte {
	frame := []byte{p.unitId, byte(p.functionCode)}
	frame = append(frame, p.payload...)
	frame = AppendCRC(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt > 0 {
		s.corrupt--
		frame[len(frame)-1] ^= 0xFF
	}
	return frame
}

func (s *Simulator) log(format string, args ...any) {
	ts := time.Now().Format(time.DateTime)
	s.logger.Append(ts + " " + fmt.Sprintf(format, args...))
}
