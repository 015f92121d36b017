package sensor

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quiet struct{}

func (quiet) Append(string) {}

var cfg = modbus.Config{
	MaxAttempts:       2,
	InterAttemptDelay: time.Millisecond,
	ResponseTimeout:   50 * time.Millisecond,
}

func simBus(t *testing.T, sim *modbus.Simulator) *modbus.Bus {
	t.Helper()
	client, server := net.Pipe()
	go func() { _ = sim.Serve(server) }()
	bus := modbus.NewBus("sim", modbus.NewConnLink(client), cfg)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = server.Close()
	})
	return bus
}

func TestDecode(t *testing.T) {
	tests := []struct {
		typ  string
		data []byte
		want Values
	}{
		{"level", []byte{0x01, 0xB4}, Values{"water_level": 4.36}},
		{"soil", []byte{0xFF, 0x9C, 0x01, 0x5E}, Values{"soil_temperature": -10.0, "soil_moisture": 35.0}},
		{"airth", []byte{0x02, 0x58, 0x00, 0xFB}, Values{"humidity": 60.0, "temperature": 25.1}},
		{"wind", []byte{0x00, 0x2D, 0x01, 0x0E}, Values{"wind_speed": 4.5, "wind_direction": 270}},
		{"solar", []byte{0x03, 0x20}, Values{"radiation": 800}},
		{"soilph", []byte{0x40, 0xE0, 0x51, 0xEC, 0xC0, 0x89, 0x99, 0x9A, 0x41, 0xC9, 0x47, 0xAE}, Values{"ph": 7.01, "soil_temperature": 25.16}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			p, ok := Lookup(tt.typ)
			require.True(t, ok)
			got, err := Decode(p, tt.data)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for name, v := range tt.want {
				assert.InDelta(t, v, got[name], 0.0001, name)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	level, _ := Lookup("level")
	_, err := Decode(level, []byte{0x01})
	assert.Error(t, err)

	ph, _ := Lookup("soilph")
	nan := []byte{0x7F, 0xC0, 0x00, 0x00, 0, 0, 0, 0, 0x41, 0xC9, 0x47, 0xAE}
	_, err = Decode(ph, nan)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestNewDevice(t *testing.T) {
	dev, err := NewDevice("tank", "ultrasonic", 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x32), dev.Address)
	assert.Equal(t, 4800, dev.Profile.DefaultBaud)

	dev, err = NewDevice("field", "soilec", 9)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), dev.Address)

	_, err = NewDevice("x", "thermostat", 1)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"airth", "level", "rain", "soil", "soilec", "soilph", "solar", "ultrasonic", "wind"}, Types())
}

func TestRead(t *testing.T) {
	p, _ := Lookup("soilec")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(4, Memory(p, 4, Values{"ec": 1.25, "salinity": 640}))
	bus := simBus(t, sim)

	dev, err := NewDevice("bed-1", "soilec", 0)
	require.NoError(t, err)
	r, err := Read(bus, dev, bus.Config())
	require.NoError(t, err)
	assert.InDelta(t, 1.25, r.Values["ec"], 0.0001)
	assert.InDelta(t, 640, r.Values["salinity"], 0.0001)
	assert.Equal(t, 1, r.Attempts)
	assert.False(t, r.Timestamp.IsZero())
}

func TestReadUnreachable(t *testing.T) {
	sim := modbus.NewSimulator(quiet{})
	bus := simBus(t, sim)

	dev, _ := NewDevice("tank", "level", 7)
	_, err := Read(bus, dev, bus.Config())
	assert.ErrorIs(t, err, modbus.ErrNoResponse)
	assert.Contains(t, err.Error(), "read tank")
}

func TestSetAddressWithSave(t *testing.T) {
	p, _ := Lookup("level")
	sim := modbus.NewSimulator(quiet{})
	mem := Memory(p, 1, Values{"water_level": 4.36})
	sim.AddSlave(1, mem)
	bus := simBus(t, sim)

	dev, _ := NewDevice("tank", "level", 1)
	moved, err := SetAddress(bus, dev, 2, bus.Config())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), moved.Address)
	assert.Equal(t, []uint8{2}, sim.Slaves())

	v, _ := mem.GetHoldingReg(0x0000)
	assert.Equal(t, uint16(2), v)
	// address write plus save write
	assert.Equal(t, uint64(2), bus.Counters().Get(modbus.CntSuccess))

	r, err := Read(bus, moved, bus.Config())
	require.NoError(t, err)
	assert.InDelta(t, 4.36, r.Values["water_level"], 0.0001)
}

func TestSetAddressErrors(t *testing.T) {
	sim := modbus.NewSimulator(quiet{})
	bus := simBus(t, sim)

	solar, _ := NewDevice("sun", "solar", 1)
	_, err := SetAddress(bus, solar, 2, bus.Config())
	assert.ErrorIs(t, err, ErrNotAddressable)

	soil, _ := NewDevice("bed", "soil", 1)
	_, err = SetAddress(bus, soil, 0, bus.Config())
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = SetAddress(bus, soil, 248, bus.Config())
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Zero(t, bus.Counters().Get(modbus.CntTransactions))
}

func TestSetAddressTaken(t *testing.T) {
	p, _ := Lookup("soil")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(1, Memory(p, 1, nil))
	sim.AddSlave(2, Memory(p, 2, nil))
	bus := simBus(t, sim)

	dev, _ := NewDevice("bed", "soil", 1)
	same, err := SetAddress(bus, dev, 2, bus.Config())
	assert.ErrorIs(t, err, modbus.ErrException)
	assert.Equal(t, uint8(1), same.Address)
}

type book struct {
	addresses map[string]uint8
	saves     int
	saveErr   error
}

func (b *book) Set(name string, address uint8) {
	if b.addresses == nil {
		b.addresses = map[string]uint8{}
	}
	b.addresses[name] = address
}

func (b *book) Save() error {
	b.saves++
	return b.saveErr
}

func TestRelocate(t *testing.T) {
	p, _ := Lookup("level")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(1, Memory(p, 1, Values{"water_level": 4.36}))
	bus := simBus(t, sim)
	b := &book{}

	dev, _ := NewDevice("tank", "level", 1)
	moved, err := Relocate(bus, dev, 5, b)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), moved.Address)
	assert.Equal(t, map[string]uint8{"tank": 5}, b.addresses)
	assert.Equal(t, 1, b.saves)

	_, err = Relocate(bus, dev, 6, nil)
	assert.ErrorIs(t, err, modbus.ErrNoResponse)
}

func TestRelocateRecordsMoveWhenSaveFails(t *testing.T) {
	// level sensor without its save register
	mem := modbus.NewMemoryMap()
	mem.PutHoldingReg(0x0004, 436)
	mem.SetAddressRegister(0x0000)
	mem.PutHoldingReg(0x0000, 1)
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(1, mem)
	bus := simBus(t, sim)
	b := &book{}

	dev, _ := NewDevice("tank", "level", 1)
	moved, err := Relocate(bus, dev, 9, b)
	assert.ErrorIs(t, err, modbus.ErrException)
	assert.Equal(t, uint8(9), moved.Address)
	assert.Equal(t, map[string]uint8{"tank": 9}, b.addresses)
	assert.Equal(t, []uint8{9}, sim.Slaves())
}

func TestRelocateFailureRecordsNothing(t *testing.T) {
	p, _ := Lookup("soil")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(1, Memory(p, 1, nil))
	sim.AddSlave(2, Memory(p, 2, nil))
	bus := simBus(t, sim)
	b := &book{saveErr: errors.New("disk full")}

	dev, _ := NewDevice("bed", "soil", 1)
	same, err := Relocate(bus, dev, 2, b)
	assert.ErrorIs(t, err, modbus.ErrException)
	assert.Equal(t, uint8(1), same.Address)
	assert.Nil(t, b.addresses)
	assert.Zero(t, b.saves)

	moved, err := Relocate(bus, dev, 3, b)
	assert.Equal(t, uint8(3), moved.Address)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, map[string]uint8{"bed": 3}, b.addresses)
}

func TestQueryAddress(t *testing.T) {
	p, _ := Lookup("airth")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(17, Memory(p, 17, Values{"humidity": 55, "temperature": -3.5}))
	bus := simBus(t, sim)

	a, err := QueryAddress(bus, p, bus.Config())
	require.NoError(t, err)
	assert.Equal(t, uint8(17), a)

	level, _ := Lookup("level")
	_, err = QueryAddress(bus, level, bus.Config())
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	p, _ := Lookup("wind")
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(3, Memory(p, 3, Values{"wind_speed": 2.5}))
	sim.AddSlave(6, Memory(p, 6, nil))
	bus := simBus(t, sim)

	scanCfg := modbus.Config{MaxAttempts: 1, ResponseTimeout: 20 * time.Millisecond}
	found, err := Scan(context.Background(), bus, p, 1, 8, scanCfg)
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 6}, found)
}

func TestScanCancelled(t *testing.T) {
	p, _ := Lookup("wind")
	sim := modbus.NewSimulator(quiet{})
	bus := simBus(t, sim)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	found, err := Scan(ctx, bus, p, 1, 247, cfg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, found)
}

func TestRegisters(t *testing.T) {
	dev, _ := NewDevice("bed", "soilph", 0)
	rr := Registers(dev)
	require.Len(t, rr, 3)
	assert.Equal(t, "ph", rr[0].Name)
	assert.Equal(t, "F32T1234", rr[0].Datatype)
	assert.Equal(t, uint16(0x0004), rr[1].Address)
	assert.Equal(t, uint8(3), rr[1].SlaveAddress)
	assert.Equal(t, "write", rr[2].Action)
	assert.Equal(t, uint16(0x0014), rr[2].Address)

	sun, _ := NewDevice("sun", "solar", 0)
	assert.Len(t, Registers(sun), 1)
}

func TestSetBaud(t *testing.T) {
	p, _ := Lookup("airth")
	mem := Memory(p, 1, nil)
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(1, mem)
	bus := simBus(t, sim)

	v, _ := mem.GetHoldingReg(0x07D1)
	assert.Equal(t, uint16(2), v)

	dev, _ := NewDevice("air", "airth", 1)
	require.NoError(t, SetBaud(bus, dev, 4800, bus.Config()))
	v, _ = mem.GetHoldingReg(0x07D1)
	assert.Equal(t, uint16(1), v)

	assert.ErrorIs(t, SetBaud(bus, dev, 14400, bus.Config()), ErrUnsupported)
	level, _ := NewDevice("tank", "level", 1)
	assert.ErrorIs(t, SetBaud(bus, level, 4800, bus.Config()), ErrUnsupported)
	assert.Equal(t, uint64(1), bus.Counters().Get(modbus.CntTransactions))
}

func TestReset(t *testing.T) {
	p, _ := Lookup("ultrasonic")
	mem := Memory(p, 0x40, Values{"distance": 182})
	sim := modbus.NewSimulator(quiet{})
	sim.AddSlave(0x40, mem)
	bus := simBus(t, sim)

	dev, _ := NewDevice("well", "ultrasonic", 0x40)
	back, err := Reset(bus, dev, bus.Config())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x32), back.Address)
	assert.Equal(t, []uint8{0x32}, sim.Slaves())
	v, _ := mem.GetHoldingReg(0x0100)
	assert.Equal(t, uint16(0x32), v)

	r, err := Read(bus, back, bus.Config())
	require.NoError(t, err)
	assert.InDelta(t, 182, r.Values["distance"], 0.0001)

	tank, _ := NewDevice("tank", "level", 1)
	same, err := Reset(bus, tank, bus.Config())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, uint8(1), same.Address)
}

func TestRegistersBaudCode(t *testing.T) {
	dev, _ := NewDevice("air", "airth", 0)
	rr := Registers(dev)
	require.Len(t, rr, 4)
	assert.Equal(t, "address", rr[2].Name)
	assert.Equal(t, "baud_code", rr[3].Name)
	assert.Equal(t, uint16(0x07D1), rr[3].Address)
}
