package modbus

import (
	"math"
	"sync"
)

// MemoryMap holds the holding registers of a simulated slave.
type MemoryMap struct {
	mu              sync.RWMutex
	holdingRegs     map[uint16]uint16
	addressRegister *uint16
	resetRegister   *uint16
	resetAddress    uint8
}

// NewMemoryMap creates a new MemoryMap instance.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{
		holdingRegs: make(map[uint16]uint16),
	}
}

// PutHoldingReg sets the value of a holding register in the memory map.
func (mm *MemoryMap) PutHoldingReg(address uint16, value uint16) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.holdingRegs[address] = value
}

// PutFloat32 stores v big endian in the holding registers address and address+1.
func (mm *MemoryMap) PutFloat32(address uint16, v float32) {
	bits := math.Float32bits(v)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.holdingRegs[address] = uint16(bits >> 16)
	mm.holdingRegs[address+1] = uint16(bits)
}

func (mm *MemoryMap) GetHoldingReg(address uint16) (uint16, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	value, ok := mm.holdingRegs[address]
	return value, ok
}

// SetAddressRegister marks the register that holds the slave's own address.
// Writing it moves the slave to the written address.
func (mm *MemoryMap) SetAddressRegister(address uint16) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.addressRegister = &address
	if _, ok := mm.holdingRegs[address]; !ok {
		mm.holdingRegs[address] = 0
	}
}

// SetResetRegister marks a register whose write of 0 moves the slave back
// to address.
func (mm *MemoryMap) SetResetRegister(register uint16, address uint8) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.resetRegister = &register
	mm.resetAddress = address
	if _, ok := mm.holdingRegs[register]; !ok {
		mm.holdingRegs[register] = 0
	}
}

// relocation returns the address a write of value to register moves the
// slave to, or false if the write does not move it.
func (mm *MemoryMap) relocation(register, value uint16) (uint16, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if mm.addressRegister != nil && *mm.addressRegister == register {
		return value, true
	}
	if mm.resetRegister != nil && *mm.resetRegister == register && value == 0 {
		return uint16(mm.resetAddress), true
	}
	return 0, false
}

// moved records the new slave address in the address register.
func (mm *MemoryMap) moved(address uint8) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.addressRegister != nil {
		mm.holdingRegs[*mm.addressRegister] = uint16(address)
	}
}

// readHolding returns count registers starting at address, or false if one of
// them does not exist.
func (mm *MemoryMap) readHolding(address, count uint16) ([]uint16, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	values := make([]uint16, count)
	for i := range values {
		v, ok := mm.holdingRegs[address+uint16(i)]
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// writeHolding overwrites an existing register.
func (mm *MemoryMap) writeHolding(address, value uint16) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.holdingRegs[address]; !ok {
		return false
	}
	mm.holdingRegs[address] = value
	return true
}
