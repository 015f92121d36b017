package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

type FunctionCode uint8

const (
	FuncReadHoldingRegisters FunctionCode = 0x03
	FuncWriteSingleRegister  FunctionCode = 0x06

	// exceptionFlag is set on the function code of an exception response.
	exceptionFlag FunctionCode = 0x80
)

func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadHoldingRegisters:
		return "read holding registers"
	case FuncWriteSingleRegister:
		return "write single register"
	}
	return fmt.Sprintf("function 0x%02X", uint8(fc))
}

// Slave address ranges of a serial line.
const (
	SlaveBroadcast uint8 = 0
	SlaveMin       uint8 = 1
	SlaveMax       uint8 = 247
)

// ValidSlave reports whether address identifies an individual device.
func ValidSlave(address uint8) bool {
	return address >= SlaveMin && address <= SlaveMax
}

const (
	crcLength       int = 2
	minFrameLength  int = 4 // address, function, crc
	requestLength   int = 8
	exceptionLength int = 5

	// WriteResponseLength is the length of the echo of a write single register request.
	WriteResponseLength int = 8

	// MaxReadCount is the largest register count of a single read request.
	MaxReadCount uint16 = 125
)

// ReadResponseLength returns the length of the response to a read of count
// registers: address, function, byte count, data and crc.
func ReadResponseLength(count uint16) int {
	return 3 + 2*int(count) + crcLength
}

// Frame holds one Modbus RTU message including its trailing crc.
type Frame []byte

func (f Frame) Slave() uint8 { return f[0] }

func (f Frame) Function() FunctionCode { return FunctionCode(f[1]) }

// Payload returns the bytes between function code and crc.
func (f Frame) Payload() []byte { return f[2 : len(f)-crcLength] }

// CRC returns the checksum stored at the end of the frame.
func (f Frame) CRC() uint16 {
	return bytesToUint16(LITTLE_ENDIAN, f[len(f)-crcLength:])
}

// CheckCRC reports whether the stored checksum matches the one computed over
// all preceding bytes.
func (f Frame) CheckCRC() bool {
	if len(f) < minFrameLength {
		return false
	}
	return CRC16(f[:len(f)-crcLength]) == f.CRC()
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", []byte(f))
}

// BuildFrame assembles the 8 byte request [slave, fc, reg hi, reg lo, val hi,
// val lo, crc lo, crc hi].
func BuildFrame(slave uint8, fc FunctionCode, register, value uint16) Frame {
	f := make([]byte, 0, requestLength)
	f = append(f, slave, byte(fc))
	f = append(f, uint16ToBytes(BIG_ENDIAN, register)...)
	f = append(f, uint16ToBytes(BIG_ENDIAN, value)...)
	return AppendCRC(f)
}

// Register returns register n (0 based) of the data section of a read response.
func Register(data []byte, n int) (uint16, error) {
	if n < 0 || 2*n+2 > len(data) {
		return 0, fmt.Errorf("register %d out of range (%d data bytes)", n, len(data))
	}
	return bytesToUint16(BIG_ENDIAN, data[2*n:]), nil
}

// Registers returns all registers of the data section of a read response.
func Registers(data []byte) []uint16 {
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = bytesToUint16(BIG_ENDIAN, data[2*i:])
	}
	return regs
}

// Signed reinterprets a register as a 16 bit two's complement value.
func Signed(v uint16) int {
	if v >= 0x8000 {
		return int(v) - 0x10000
	}
	return int(v)
}

// Float32 returns the big endian IEEE-754 value stored in registers n and n+1.
func Float32(data []byte, n int) (float32, error) {
	if n < 0 || 2*n+4 > len(data) {
		return 0, fmt.Errorf("float at register %d out of range (%d data bytes)", n, len(data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data[2*n:])), nil
}

type Endianness uint

const (
	// endianness of 16-bit quantities on the wire
	BIG_ENDIAN    Endianness = 1 // registers
	LITTLE_ENDIAN Endianness = 2 // crc
)

func bytesToUint16(endianness Endianness, in []byte) (out uint16) {
	switch endianness {
	case BIG_ENDIAN:
		out = binary.BigEndian.Uint16(in)
	case LITTLE_ENDIAN:
		out = binary.LittleEndian.Uint16(in)
	}

	return
}

func uint16ToBytes(endianness Endianness, in uint16) (out []byte) {
	out = make([]byte, 2)
	switch endianness {
	case BIG_ENDIAN:
		binary.BigEndian.PutUint16(out, in)
	case LITTLE_ENDIAN:
		binary.LittleEndian.PutUint16(out, in)
	}

	return
}
