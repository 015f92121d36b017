package modbus

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/rwirdemann/rtusensors"
)

// Adapter reads and writes register definitions on a bus.
type Adapter struct {
	bus *Bus
}

func NewAdapter(bus *Bus) Adapter {
	return Adapter{bus: bus}
}

func (a Adapter) Close() {
	_ = a.bus.Close()
}

// ReadRegister reads every register of the list. Registers that cannot be
// read are logged and left out of the result.
func (a Adapter) ReadRegister(register []rtusensors.Register) []rtusensors.Register {
	var rr []rtusensors.Register
	for _, r := range register {
		holding, err := a.readHolding(r)
		if err != nil {
			slog.Error("error reading holding register", "slave", r.SlaveAddress, "address", r.Address, "err", err)
			continue
		}
		rr = append(rr, holding)
	}
	return rr
}

func (a Adapter) WriteRegister(r rtusensors.Register) error {
	var value uint16
	switch r.Datatype {
	case "UINT16":
		v, ok := r.RawData.(uint16)
		if !ok {
			return fmt.Errorf("raw data %v is no uint16", r.RawData)
		}
		value = v
	case "SINT16":
		v, ok := r.RawData.(int16)
		if !ok {
			return fmt.Errorf("raw data %v is no int16", r.RawData)
		}
		value = uint16(v)
	default:
		return fmt.Errorf("unknown datatype: %s", r.Datatype)
	}

	_, err := a.bus.Execute(NewWriteRequest(r.SlaveAddress, r.Address, value), a.bus.Config())
	return err
}

func (a Adapter) readHolding(register rtusensors.Register) (rtusensors.Register, error) {
	switch register.Datatype {
	case "UINT16", "SINT16":
		res, err := a.bus.Execute(NewReadRequest(register.SlaveAddress, register.Address, 1), a.bus.Config())
		if err != nil {
			return rtusensors.Register{}, err
		}
		v, err := Register(res.Data(), 0)
		if err != nil {
			return rtusensors.Register{}, err
		}
		if register.Datatype == "SINT16" {
			register.RawData = int16(Signed(v))
		} else {
			register.RawData = v
		}
		return register, nil
	case "F32T1234":
		res, err := a.bus.Execute(NewReadRequest(register.SlaveAddress, register.Address, 2), a.bus.Config())
		if err != nil {
			return rtusensors.Register{}, err
		}
		v, err := Float32(res.Data(), 0)
		if err != nil {
			return rtusensors.Register{}, err
		}
		if math.IsNaN(float64(v)) {
			return rtusensors.Register{}, fmt.Errorf("register 0x%04X holds NaN", register.Address)
		}
		register.RawData = v
		return register, nil
	default:
		return rtusensors.Register{}, fmt.Errorf("unknown datatype: %s", register.Datatype)
	}
}
