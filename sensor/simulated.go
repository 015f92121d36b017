package sensor

import (
	"math"

	"github.com/rwirdemann/rtusensors/modbus"
)

// Memory returns the register map of a simulated sensor of profile p showing
// values. Fields missing from values read as zero; registers between fields
// are present and zero.
func Memory(p Profile, address uint8, values Values) *modbus.MemoryMap {
	mem := modbus.NewMemoryMap()
	for i := uint16(0); i < p.Count; i++ {
		mem.PutHoldingReg(p.Start+i, 0)
	}
	for _, f := range p.Fields {
		v := values[f.Name]
		if f.Scale != 0 {
			v *= f.Scale
		}
		reg := p.Start + uint16(f.Offset)
		switch f.Kind {
		case U16:
			mem.PutHoldingReg(reg, uint16(math.Round(v)))
		case S16:
			mem.PutHoldingReg(reg, uint16(int16(math.Round(v))))
		case F32:
			mem.PutFloat32(reg, float32(v))
		}
	}
	if p.Addressable {
		mem.SetAddressRegister(p.AddressRegister)
		mem.PutHoldingReg(p.AddressRegister, uint16(address))
		if p.NeedsSave {
			mem.PutHoldingReg(p.SaveRegister, 0)
		}
	}
	if p.BaudCodes != nil {
		mem.PutHoldingReg(p.BaudRegister, p.BaudCodes[p.DefaultBaud])
	}
	if p.Resettable {
		mem.SetResetRegister(p.ResetRegister, p.DefaultAddress)
	}
	return mem
}
