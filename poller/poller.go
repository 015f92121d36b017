// Package poller reads all configured sensors periodically and publishes
// their values.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/sensor"
	"github.com/rwirdemann/rtusensors/store"
	"github.com/rwirdemann/rtusensors/telemetry"
)

const DefaultInterval = 10 * time.Second

// Target is a bus and the sensors attached to it.
type Target struct {
	Bus     *modbus.Bus
	Devices []sensor.Device
}

// Targets builds the poll targets of a configuration. A sensor's address is
// taken from the address store first, then from the configuration, then from
// the default of its type.
func Targets(c rtusensors.Config, pool *modbus.Pool, addresses *store.Store) ([]Target, error) {
	var targets []Target
	for _, s := range c.Serials {
		bus, ok := pool.Bus(s.ID())
		if !ok {
			return nil, fmt.Errorf("no bus %s in pool", s.ID())
		}
		t := Target{Bus: bus}
		for _, cs := range s.Sensors {
			address := cs.Address
			if addresses != nil {
				if a, ok := addresses.Address(cs.Name); ok {
					address = a
				}
			}
			dev, err := sensor.NewDevice(cs.Name, cs.Type, address)
			if err != nil {
				return nil, fmt.Errorf("bus %s: %w", s.ID(), err)
			}
			t.Devices = append(t.Devices, dev)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Poller runs one poll loop per bus. Buses are polled in parallel; the sensors
// of one bus are polled in sequence while the loop holds the bus.
type Poller struct {
	targets   []Target
	publisher telemetry.Publisher
	interval  time.Duration
	state     *State
}

func New(targets []Target, publisher telemetry.Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		targets:   targets,
		publisher: publisher,
		interval:  interval,
		state:     NewState(),
	}
}

func (p *Poller) State() *State {
	return p.state
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			p.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (p *Poller) loop(ctx context.Context, t Target) {
	slog.Info("polling bus", "bus", t.Bus.Name, "sensors", len(t.Devices), "interval", p.interval)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("polling stopped", "bus", t.Bus.Name)
			return
		case <-timer.C:
		}

		b := p.Cycle(ctx, t)
		if len(b) > 0 && p.publisher != nil {
			if err := p.publisher.Publish(ctx, b); err != nil {
				slog.Error("publish failed", "bus", t.Bus.Name, "err", err)
			}
		}
		timer.Reset(p.interval)
	}
}

// Cycle reads every sensor of t once while holding the bus and returns the
// values read. A sensor that fails is logged and left out.
func (p *Poller) Cycle(ctx context.Context, t Target) telemetry.Batch {
	b := telemetry.Batch{}
	_ = t.Bus.Session(func(s *modbus.Session) error {
		cfg := s.Bus().Config()
		for _, dev := range t.Devices {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r, err := sensor.Read(s, dev, cfg)
			p.state.update(t.Bus.Name, dev, r, err)
			if err != nil {
				slog.Warn("sensor temporarily unreachable", "bus", t.Bus.Name, "sensor", dev.Name, "address", dev.Address, "err", err)
				continue
			}
			for field, v := range r.Values {
				b[Series(dev.Name, field)] = telemetry.Sample{Timestamp: r.Timestamp, Value: v}
			}
		}
		return nil
	})
	return b
}

// Series returns the telemetry key of a sensor field.
func Series(sensorName, field string) string {
	return sensorName + "." + field
}
