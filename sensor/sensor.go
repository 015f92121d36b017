// Package sensor knows the register maps of the supported RS-485 sensors and
// reads, scans and re-addresses them through a modbus.Executor.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rwirdemann/rtusensors/modbus"
)

var (
	ErrUnknownType    = errors.New("unknown sensor type")
	ErrNotAddressable = errors.New("sensor address cannot be changed over modbus")
	ErrInvalidAddress = errors.New("slave address outside 1..247")
	ErrInvalidValue   = errors.New("sensor reported an invalid value")
	ErrUnsupported    = errors.New("operation not supported by sensor")
)

// Values maps field names to decoded values.
type Values map[string]float64

// Device is one sensor on a bus.
type Device struct {
	Name    string
	Profile Profile
	Address uint8
}

// NewDevice creates a device of the given type. Address 0 selects the default
// address of the type.
func NewDevice(name, typ string, address uint8) (Device, error) {
	p, ok := Lookup(typ)
	if !ok {
		return Device{}, fmt.Errorf("%s: %w %q", name, ErrUnknownType, typ)
	}
	if address == 0 {
		address = p.DefaultAddress
	}
	return Device{Name: name, Profile: p, Address: address}, nil
}

// Reading is the outcome of one successful read.
type Reading struct {
	Device    Device
	Timestamp time.Time
	Values    Values
	Attempts  int
}

// Decode converts the data bytes of a read response into field values.
func Decode(p Profile, data []byte) (Values, error) {
	if len(data) != 2*int(p.Count) {
		return nil, fmt.Errorf("%s: got %d data bytes, want %d", p.Type, len(data), 2*p.Count)
	}
	values := make(Values, len(p.Fields))
	for _, f := range p.Fields {
		var v float64
		switch f.Kind {
		case U16, S16:
			raw, err := modbus.Register(data, f.Offset)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", p.Type, f.Name, err)
			}
			if f.Kind == S16 {
				v = float64(modbus.Signed(raw))
			} else {
				v = float64(raw)
			}
		case F32:
			raw, err := modbus.Float32(data, f.Offset)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", p.Type, f.Name, err)
			}
			v = float64(raw)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s.%s: %w", p.Type, f.Name, ErrInvalidValue)
			}
		default:
			return nil, fmt.Errorf("%s.%s: unsupported kind %s", p.Type, f.Name, f.Kind)
		}
		if f.Scale != 0 {
			v /= f.Scale
		}
		values[f.Name] = v
	}
	return values, nil
}

// Read polls the register block of dev and decodes it.
func Read(exec modbus.Executor, dev Device, cfg modbus.Config) (Reading, error) {
	p := dev.Profile
	res, err := exec.Execute(modbus.NewReadRequest(dev.Address, p.Start, p.Count), cfg)
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", dev.Name, err)
	}
	values, err := Decode(p, res.Data())
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", dev.Name, err)
	}
	return Reading{Device: dev, Timestamp: time.Now(), Values: values, Attempts: res.Attempts}, nil
}

// SetAddress moves dev to address to. The engine validates the echo of the
// write; sensors that need it get the save command at their new address.
// On success the returned device carries the new address.
func SetAddress(exec modbus.Executor, dev Device, to uint8, cfg modbus.Config) (Device, error) {
	p := dev.Profile
	if !p.Addressable {
		return dev, fmt.Errorf("%s (%s): %w", dev.Name, p.Type, ErrNotAddressable)
	}
	if !modbus.ValidSlave(to) {
		return dev, fmt.Errorf("%s: %w: %d", dev.Name, ErrInvalidAddress, to)
	}

	if _, err := exec.Execute(modbus.NewWriteRequest(dev.Address, p.AddressRegister, uint16(to)), cfg); err != nil {
		return dev, fmt.Errorf("set address of %s to %d: %w", dev.Name, to, err)
	}
	moved := dev
	moved.Address = to
	if p.NeedsSave {
		if _, err := exec.Execute(modbus.NewWriteRequest(to, p.SaveRegister, 0), cfg); err != nil {
			return moved, fmt.Errorf("save address %d of %s: %w", to, dev.Name, err)
		}
	}
	return moved, nil
}

// AddressBook records sensor addresses. *store.Store implements it.
type AddressBook interface {
	Set(name string, address uint8)
	Save() error
}

// Relocate moves dev to address to while holding bus and records the new
// address in book, which may be nil. A sensor whose save command failed is
// recorded too: it answers on the new address until its next power cycle.
func Relocate(bus *modbus.Bus, dev Device, to uint8, book AddressBook) (Device, error) {
	var moved Device
	err := bus.Session(func(s *modbus.Session) error {
		var err error
		moved, err = SetAddress(s, dev, to, bus.Config())
		return err
	})
	if moved.Address == dev.Address || book == nil {
		return moved, err
	}
	book.Set(moved.Name, moved.Address)
	if serr := book.Save(); serr != nil {
		return moved, errors.Join(err, fmt.Errorf("record address of %s: %w", moved.Name, serr))
	}
	return moved, err
}

// SetBaud switches dev to the line speed baud. The sensor answers at the
// old speed; the bus has to be reopened at the new one afterwards.
func SetBaud(exec modbus.Executor, dev Device, baud int, cfg modbus.Config) error {
	p := dev.Profile
	if p.BaudCodes == nil {
		return fmt.Errorf("%s (%s) baud rate: %w", dev.Name, p.Type, ErrUnsupported)
	}
	code, ok := p.BaudCodes[baud]
	if !ok {
		return fmt.Errorf("%s (%s): %w: baud rate %d", dev.Name, p.Type, ErrUnsupported, baud)
	}
	if _, err := exec.Execute(modbus.NewWriteRequest(dev.Address, p.BaudRegister, code), cfg); err != nil {
		return fmt.Errorf("set baud rate of %s to %d: %w", dev.Name, baud, err)
	}
	return nil
}

// Reset sends dev back to the default address of its type.
func Reset(exec modbus.Executor, dev Device, cfg modbus.Config) (Device, error) {
	p := dev.Profile
	if !p.Resettable {
		return dev, fmt.Errorf("%s (%s) reset: %w", dev.Name, p.Type, ErrUnsupported)
	}
	if _, err := exec.Execute(modbus.NewWriteRequest(dev.Address, p.ResetRegister, 0), cfg); err != nil {
		return dev, fmt.Errorf("reset %s: %w", dev.Name, err)
	}
	dev.Address = p.DefaultAddress
	return dev, nil
}

// QueryAddress asks the only sensor on the bus for its address, using the
// reserved query address of the profile.
func QueryAddress(exec modbus.Executor, p Profile, cfg modbus.Config) (uint8, error) {
	if p.QueryAddress == 0 {
		return 0, fmt.Errorf("%s: no query address", p.Type)
	}
	req := modbus.NewReadRequest(p.QueryAddress, p.AddressRegister, 1)
	req.AllowReserved = true
	res, err := exec.Execute(req, cfg)
	if err != nil {
		return 0, fmt.Errorf("query address of %s: %w", p.Type, err)
	}
	v, err := modbus.Register(res.Data(), 0)
	if err != nil {
		return 0, err
	}
	if v > 0xFF || !modbus.ValidSlave(uint8(v)) {
		return 0, fmt.Errorf("%s reports address %d: %w", p.Type, v, ErrInvalidAddress)
	}
	return uint8(v), nil
}

// Scan tries the addresses from..to for a sensor of profile p and returns the
// addresses that answered. A slave answering with an exception is present too.
// Scan stops early when ctx is done.
func Scan(ctx context.Context, exec modbus.Executor, p Profile, from, to uint8, cfg modbus.Config) ([]uint8, error) {
	if from < modbus.SlaveMin {
		from = modbus.SlaveMin
	}
	if to > modbus.SlaveMax {
		to = modbus.SlaveMax
	}
	var found []uint8
	for a := int(from); a <= int(to); a++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		_, err := exec.Execute(modbus.NewReadRequest(uint8(a), p.Start, p.Count), cfg)
		if err == nil || modbus.KindOf(err) == modbus.ErrException {
			found = append(found, uint8(a))
			continue
		}
		if modbus.KindOf(err) == modbus.ErrIO {
			return found, fmt.Errorf("scan for %s: %w", p.Type, err)
		}
	}
	return found, nil
}
