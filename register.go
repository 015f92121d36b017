package rtusensors

type Register struct {
	SlaveAddress uint8  // the slave address to which this register belongs
	Address      uint16 // the address of this holding register
	Name         string
	Datatype     string // UINT16 | SINT16 | F32T1234
	Action       string // read | write
	RawData      any
}
