package modbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
	"github.com/rwirdemann/rtusensors"
)

// Pool holds the buses of a node, one per configured serial entry.
type Pool struct {
	buses  []*Bus
	byName map[string]*Bus
}

func NewPool(buses ...*Bus) *Pool {
	p := &Pool{byName: make(map[string]*Bus)}
	for _, b := range buses {
		p.buses = append(p.buses, b)
		p.byName[b.Name] = b
	}
	return p
}

// OpenPool opens a link for every serial entry. If one fails, the links
// opened so far are closed again.
func OpenPool(serials []rtusensors.Serial) (*Pool, error) {
	var buses []*Bus
	for _, s := range serials {
		link, err := OpenLink(s)
		if err != nil {
			for _, b := range buses {
				_ = b.link.Close()
			}
			return nil, fmt.Errorf("bus %s: %w", s.ID(), err)
		}
		buses = append(buses, NewBus(s.ID(), link, ConfigFromSerial(s)))
	}
	return NewPool(buses...), nil
}

func (p *Pool) Bus(name string) (*Bus, bool) {
	b, ok := p.byName[name]
	return b, ok
}

func (p *Pool) Buses() []*Bus {
	return p.buses
}

// LockAll returns a locker that atomically holds every bus of the pool.
func (p *Pool) LockAll() sync.Locker {
	lockers := make([]sync.Locker, len(p.buses))
	for i, b := range p.buses {
		lockers[i] = b.Locker()
	}
	return multilocker.New(lockers...)
}

// Close waits until no bus has a transaction in flight and closes all links.
func (p *Pool) Close() error {
	l := p.LockAll()
	l.Lock()
	defer l.Unlock()
	var errs []error
	for _, b := range p.buses {
		if err := b.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus %s: %w", b.Name, err))
		}
	}
	return errors.Join(errs...)
}
