package modbus

import (
	"testing"

	"github.com/rwirdemann/rtusensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter(t *testing.T) {
	mem := NewMemoryMap()
	mem.PutHoldingReg(0x0000, 0xFF9C)
	mem.PutHoldingReg(0x0001, 350)
	mem.PutFloat32(0x0002, 7.01)
	sim := NewSimulator(discardLogger{})
	sim.AddSlave(1, mem)
	a := NewAdapter(pipeBus(t, sim))

	rr := a.ReadRegister([]rtusensors.Register{
		{SlaveAddress: 1, Address: 0x0000, Datatype: "SINT16"},
		{SlaveAddress: 1, Address: 0x0001, Datatype: "UINT16"},
		{SlaveAddress: 1, Address: 0x0002, Datatype: "F32T1234"},
		{SlaveAddress: 1, Address: 0x0100, Datatype: "UINT16"},
		{SlaveAddress: 1, Address: 0x0000, Datatype: "T64T1234"},
	})
	require.Len(t, rr, 3)
	assert.Equal(t, int16(-100), rr[0].RawData)
	assert.Equal(t, uint16(350), rr[1].RawData)
	assert.InDelta(t, 7.01, rr[2].RawData, 0.0001)

	require.NoError(t, a.WriteRegister(rtusensors.Register{SlaveAddress: 1, Address: 0x0001, Datatype: "UINT16", RawData: uint16(351)}))
	v, _ := mem.GetHoldingReg(0x0001)
	assert.Equal(t, uint16(351), v)

	require.NoError(t, a.WriteRegister(rtusensors.Register{SlaveAddress: 1, Address: 0x0000, Datatype: "SINT16", RawData: int16(-5)}))
	v, _ = mem.GetHoldingReg(0x0000)
	assert.Equal(t, uint16(0xFFFB), v)

	assert.Error(t, a.WriteRegister(rtusensors.Register{SlaveAddress: 1, Address: 0x0001, Datatype: "UINT16", RawData: 3}))
	assert.Error(t, a.WriteRegister(rtusensors.Register{SlaveAddress: 1, Address: 0x0002, Datatype: "F32T1234", RawData: float32(1)}))
}
