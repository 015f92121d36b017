package sensor

import (
	"fmt"
	"sort"

	"github.com/rwirdemann/rtusensors"
)

// Kind is the encoding of a field in the register block.
type Kind int

const (
	U16 Kind = iota // unsigned register
	S16             // two's complement register
	F32             // big endian IEEE-754 float in two registers
)

func (k Kind) String() string {
	switch k {
	case U16:
		return "U16"
	case S16:
		return "S16"
	case F32:
		return "F32"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Field is one measured value of a sensor.
type Field struct {
	Name   string
	Unit   string
	Offset int // register offset within the block read
	Kind   Kind
	Scale  float64 // the raw value is divided by Scale; 0 means 1
}

// Profile describes how to talk to one sensor type.
type Profile struct {
	Type           string
	Model          string
	DefaultAddress uint8
	DefaultBaud    int

	// holding register block read by one poll
	Start  uint16
	Count  uint16
	Fields []Field

	// Addressable sensors store their slave address in AddressRegister.
	// Sensors with a SaveRegister need a write of 0 to it, sent to the new
	// address, before the change survives a power cycle.
	Addressable     bool
	AddressRegister uint16
	SaveRegister    uint16
	NeedsSave       bool

	// QueryAddress is a reserved slave address the sensor answers on
	// regardless of its configured one. Zero when unsupported.
	QueryAddress uint8

	// BaudRegister takes the code of a line speed from BaudCodes. Sensors
	// without BaudCodes keep their factory speed.
	BaudRegister uint16
	BaudCodes    map[int]uint16

	// Writing 0 to ResetRegister moves a Resettable sensor back to
	// DefaultAddress.
	Resettable    bool
	ResetRegister uint16
}

var profiles = map[string]Profile{
	"soil": {
		Type: "soil", Model: "soil moisture/temperature", DefaultAddress: 1, DefaultBaud: 9600,
		Start: 0x0000, Count: 2,
		Fields: []Field{
			{Name: "soil_temperature", Unit: "°C", Offset: 0, Kind: S16, Scale: 10},
			{Name: "soil_moisture", Unit: "%", Offset: 1, Kind: U16, Scale: 10},
		},
		Addressable: true, AddressRegister: 0x0200,
	},
	"wind": {
		Type: "wind", Model: "wind speed/direction", DefaultAddress: 1, DefaultBaud: 9600,
		Start: 0x0000, Count: 2,
		Fields: []Field{
			{Name: "wind_speed", Unit: "m/s", Offset: 0, Kind: U16, Scale: 10},
			{Name: "wind_direction", Unit: "°", Offset: 1, Kind: U16},
		},
		Addressable: true, AddressRegister: 0x0020,
	},
	"solar": {
		Type: "solar", Model: "solar radiation", DefaultAddress: 1, DefaultBaud: 9600,
		Start: 0x0000, Count: 1,
		Fields: []Field{
			{Name: "radiation", Unit: "W/m²", Offset: 0, Kind: U16},
		},
	},
	"airth": {
		Type: "airth", Model: "RS30 air temperature/humidity", DefaultAddress: 1, DefaultBaud: 9600,
		Start: 0x0000, Count: 2,
		Fields: []Field{
			{Name: "humidity", Unit: "%RH", Offset: 0, Kind: U16, Scale: 10},
			{Name: "temperature", Unit: "°C", Offset: 1, Kind: S16, Scale: 10},
		},
		Addressable: true, AddressRegister: 0x07D0,
		QueryAddress: 0xFF,
		BaudRegister: 0x07D1,
		BaudCodes: map[int]uint16{
			2400: 0, 4800: 1, 9600: 2, 19200: 3, 38400: 4, 57600: 5, 115200: 6,
		},
	},
	"ultrasonic": {
		Type: "ultrasonic", Model: "ultrasonic distance", DefaultAddress: 0x32, DefaultBaud: 4800,
		Start: 0x0000, Count: 1,
		Fields: []Field{
			{Name: "distance", Unit: "cm", Offset: 0, Kind: U16},
		},
		Addressable: true, AddressRegister: 0x0100,
		Resettable: true, ResetRegister: 0x0200,
	},
	"rain": {
		Type: "rain", Model: "tipping bucket rain gauge", DefaultAddress: 0x33, DefaultBaud: 9600,
		Start: 0x0000, Count: 1,
		Fields: []Field{
			{Name: "rain_tips", Offset: 0, Kind: U16},
		},
		Addressable: true, AddressRegister: 0x0100,
	},
	"soilph": {
		Type: "soilph", Model: "RK500-22 soil pH", DefaultAddress: 3, DefaultBaud: 9600,
		Start: 0x0000, Count: 6,
		Fields: []Field{
			{Name: "ph", Unit: "pH", Offset: 0, Kind: F32},
			{Name: "soil_temperature", Unit: "°C", Offset: 4, Kind: F32},
		},
		Addressable: true, AddressRegister: 0x0014,
	},
	"soilec": {
		Type: "soilec", Model: "RK500-23 soil EC", DefaultAddress: 4, DefaultBaud: 9600,
		Start: 0x0000, Count: 10,
		Fields: []Field{
			{Name: "ec", Unit: "mS/cm", Offset: 0, Kind: F32},
			{Name: "salinity", Unit: "ppm", Offset: 8, Kind: F32},
		},
		Addressable: true, AddressRegister: 0x0014,
	},
	"level": {
		Type: "level", Model: "RKL-01 water level", DefaultAddress: 1, DefaultBaud: 9600,
		Start: 0x0004, Count: 1,
		Fields: []Field{
			{Name: "water_level", Unit: "m", Offset: 0, Kind: U16, Scale: 100},
		},
		Addressable: true, AddressRegister: 0x0000,
		SaveRegister: 0x000F, NeedsSave: true,
	},
}

// Lookup returns the profile of a sensor type.
func Lookup(typ string) (Profile, bool) {
	p, ok := profiles[typ]
	return p, ok
}

// Types returns all known sensor types in alphabetical order.
func Types() []string {
	types := make([]string, 0, len(profiles))
	for t := range profiles {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var datatypes = map[Kind]string{
	U16: "UINT16",
	S16: "SINT16",
	F32: "F32T1234",
}

// Registers returns the register definitions of dev: one read register per
// field, then the writable address and baud code registers the sensor has.
func Registers(dev Device) []rtusensors.Register {
	p := dev.Profile
	var rr []rtusensors.Register
	for _, f := range p.Fields {
		rr = append(rr, rtusensors.Register{
			SlaveAddress: dev.Address,
			Address:      p.Start + uint16(f.Offset),
			Name:         f.Name,
			Datatype:     datatypes[f.Kind],
			Action:       "read",
		})
	}
	if p.Addressable {
		rr = append(rr, rtusensors.Register{
			SlaveAddress: dev.Address,
			Address:      p.AddressRegister,
			Name:         "address",
			Datatype:     "UINT16",
			Action:       "write",
		})
	}
	if p.BaudCodes != nil {
		rr = append(rr, rtusensors.Register{
			SlaveAddress: dev.Address,
			Address:      p.BaudRegister,
			Name:         "baud_code",
			Datatype:     "UINT16",
			Action:       "write",
		})
	}
	return rr
}
