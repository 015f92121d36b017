package poller

import (
	"sort"
	"sync"
	"time"

	"github.com/rwirdemann/rtusensors/sensor"
)

// Status is the latest known state of one sensor.
type Status struct {
	Bus     string
	Device  sensor.Device
	Values  sensor.Values // last successful reading
	Read    time.Time     // time of the last successful reading
	Err     error         // error of the last attempt, nil if it succeeded
	Updated time.Time
}

// State holds the status of every polled sensor.
type State struct {
	mu      sync.RWMutex
	sensors map[string]Status
}

func NewState() *State {
	return &State{sensors: make(map[string]Status)}
}

func (s *State) update(bus string, dev sensor.Device, r sensor.Reading, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sensors[dev.Name]
	st.Bus, st.Device, st.Err, st.Updated = bus, dev, err, time.Now()
	if err == nil {
		st.Values, st.Read = r.Values, r.Timestamp
	}
	s.sensors[dev.Name] = st
}

func (s *State) Get(name string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sensors[name]
	return st, ok
}

// Snapshot returns the status of all sensors ordered by bus and name.
func (s *State) Snapshot() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Status, 0, len(s.sensors))
	for _, st := range s.sensors {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Bus != all[j].Bus {
			return all[i].Bus < all[j].Bus
		}
		return all[i].Device.Name < all[j].Device.Name
	})
	return all
}
