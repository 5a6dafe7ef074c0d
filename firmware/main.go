//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	uart = machine.UART0

	outputPins = [NUM_OUTPUTS]machine.Pin{
		PIN_OUTPUT1, PIN_OUTPUT2, PIN_OUTPUT3,
		PIN_OUTPUT4, PIN_OUTPUT5, PIN_OUTPUT6,
	}
	outputStates [NUM_OUTPUTS]bool

	tc       *thermocouple
	ovenDoor *door

	// Timing
	lastSample   time.Time
	lastDoorStep time.Time

	// Serial buffer for reading lines
	serialBuffer [16]byte
	serialPos    int
)

func main() {
	for _, pin := range outputPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pin.Low()
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	machine.SPI0.Configure(machine.SPIConfig{
		Frequency: TC_SPI_FREQ,
		Mode:      TC_SPI_MODE,
	})
	tc = newThermocouple(machine.SPI0, PIN_TC_CS)
	tc.configure()

	var err error
	if ovenDoor, err = newDoor(); err != nil {
		println("# door servo:", err.Error())
	}
	println("# MAX31856 ready")

	lastSample = time.Now()
	lastDoorStep = lastSample

	for {
		now := time.Now()

		processSerial()

		if dt := now.Sub(lastDoorStep); dt >= DOOR_STEP_MS*time.Millisecond {
			if ovenDoor != nil {
				ovenDoor.step(dt)
			}
			lastDoorStep = now
		}

		if now.Sub(lastSample) >= SAMPLE_INTERVAL_MS*time.Millisecond {
			outputSample(now)
			lastSample = now
		}

		time.Sleep(time.Millisecond)
	}
}

// outputSample writes "micros,centi,fault,OOOOOO,door\n".
func outputSample(now time.Time) {
	centi, fault := tc.read()

	print(now.UnixNano() / 1000)
	print(",")
	print(centi)
	print(",")
	print(fault)
	print(",")
	for _, on := range outputStates {
		if on {
			print("1")
		} else {
			print("0")
		}
	}
	print(",")
	if ovenDoor != nil {
		print(ovenDoor.percent())
	} else {
		print(0)
	}
	print("\n")
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				processCommand(serialBuffer[:serialPos])
			}
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line, drop it
			serialPos = 0
		}
	}
}

func processCommand(cmd []byte) {
	switch cmd[0] {
	case 'O':
		updateOutputs(cmd[1:])
	case 'D':
		updateDoor(cmd[1:])
	}
}

// updateOutputs handles "O" followed by one digit per output.
func updateOutputs(digits []byte) {
	if len(digits) != NUM_OUTPUTS {
		return
	}
	for _, c := range digits {
		if c != '0' && c != '1' {
			return
		}
	}
	for i, c := range digits {
		outputStates[i] = c == '1'
		outputPins[i].Set(outputStates[i])
	}
}

// updateDoor handles "D<percent>,<milliseconds>".
func updateDoor(args []byte) {
	if ovenDoor == nil {
		return
	}
	percent, rest, ok := parseUint(args)
	if !ok || len(rest) < 2 || rest[0] != ',' {
		return
	}
	ms, rest, ok := parseUint(rest[1:])
	if !ok || len(rest) != 0 {
		return
	}
	ovenDoor.moveTo(percent, ms)
}

func parseUint(b []byte) (uint32, []byte, bool) {
	var v uint32
	i := 0
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		if v > 100000 {
			return 0, nil, false
		}
		v = v*10 + uint32(b[i]-'0')
	}
	return v, b[i:], i > 0
}
