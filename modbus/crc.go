package modbus

// CRC16 computes the CRC-16/MODBUS checksum of data: initial value 0xFFFF,
// reflected polynomial 0xA001, shifted right bit by bit.
func CRC16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the checksum of b to b, low byte first.
func AppendCRC(b []byte) []byte {
	return append(b, uint16ToBytes(LITTLE_ENDIAN, CRC16(b))...)
}
