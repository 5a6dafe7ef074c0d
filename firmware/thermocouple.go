//go:build tinygo

package main

import "machine"

// MAX31856 registers
const (
	regCR0   = 0x00
	regCR1   = 0x01
	regMask  = 0x02
	regLTCBH = 0x0C
	regSR    = 0x0F
	regWrite = 0x80

	cr0AutoConvert = 0x80
	cr0OpenFault   = 0x10 // Open circuit detection, 10k input resistance
)

type thermocouple struct {
	spi *machine.SPI
	cs  machine.Pin
	buf [4]byte
}

func newThermocouple(spi *machine.SPI, cs machine.Pin) *thermocouple {
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()
	return &thermocouple{spi: spi, cs: cs}
}

func (t *thermocouple) configure() {
	t.write(regMask, 0x00)
	t.write(regCR1, TC_AVERAGING|TC_TYPE_K)
	t.write(regCR0, cr0AutoConvert|cr0OpenFault)
}

// read returns the linearized temperature in 0.01C and the fault status.
func (t *thermocouple) read() (int32, uint8) {
	b := t.readRegs(regLTCBH, 3)
	// 19 bit two's complement, 1/128 C per LSB
	raw := int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 13
	centi := raw * 100 / 128

	fault := t.readRegs(regSR, 1)[0]
	return centi, fault
}

func (t *thermocouple) write(reg, value byte) {
	t.cs.Low()
	t.spi.Tx([]byte{reg | regWrite, value}, nil)
	t.cs.High()
}

func (t *thermocouple) readRegs(reg byte, n int) []byte {
	t.buf = [4]byte{reg}
	t.cs.Low()
	t.spi.Tx(t.buf[:n+1], t.buf[:n+1])
	t.cs.High()
	return t.buf[1 : n+1]
}
