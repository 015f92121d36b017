package modbus

import (
	"sync"
)

// Bus is the single owner of a Link. Modbus RTU has one master and no
// multiplexing, so at most one transaction is in flight on a bus.
type Bus struct {
	Name     string
	mu       sync.Mutex
	link     Link
	cfg      Config
	counters Counters
}

func NewBus(name string, link Link, cfg Config) *Bus {
	return &Bus{Name: name, link: link, cfg: cfg.withDefaults()}
}

// Config returns the transaction policy configured for the bus.
func (b *Bus) Config() Config {
	return b.cfg
}

// Execute runs one transaction while holding the bus.
func (b *Bus) Execute(req Request, cfg Config) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execute(req, cfg)
}

// Session holds the bus for the whole of fn, e.g. a poll cycle over every
// sensor on the bus. The bus is released when fn returns or panics.
func (b *Bus) Session(fn func(s *Session) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&Session{bus: b})
}

func (b *Bus) execute(req Request, cfg Config) (Response, error) {
	res, err := Execute(b.link, req, cfg)
	b.counters.record(res, err)
	return res, err
}

// Counters returns the outcome counters of the bus.
func (b *Bus) Counters() *Counters {
	return &b.counters
}

// Locker returns the lock guarding the bus.
func (b *Bus) Locker() sync.Locker {
	return &b.mu
}

// Close closes the link once no transaction is in flight.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.link.Close()
}

// Session is a bus held by the caller of Bus.Session. It must not be used
// after that call returned.
type Session struct {
	bus *Bus
}

func (s *Session) Execute(req Request, cfg Config) (Response, error) {
	return s.bus.execute(req, cfg)
}

// Bus returns the held bus.
func (s *Session) Bus() *Bus {
	return s.bus
}
