//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 200 // MAX31856 conversion takes ~100ms in auto mode
	DOOR_STEP_MS       = 20  // Door servo update interval

	// Outputs in the order of the serial "O" command
	PIN_OUTPUT1 = machine.D0
	PIN_OUTPUT2 = machine.D1
	PIN_OUTPUT3 = machine.D3
	PIN_OUTPUT4 = machine.D4
	PIN_OUTPUT5 = machine.D5
	PIN_OUTPUT6 = machine.D6
	NUM_OUTPUTS = 6

	// MAX31856 on SPI0 (SCK=D8, SDI=D9, SDO=D10)
	PIN_TC_CS    = machine.D7
	TC_SPI_FREQ  = 1000000
	TC_SPI_MODE  = 1 // MAX31856 samples on the falling edge
	TC_TYPE_K    = 0x03
	TC_AVERAGING = 0x10 // 2 samples per conversion

	// Door servo
	PIN_SERVO       = machine.D2
	SERVO_CLOSED_US = 1000 // Pulse width with the door shut
	SERVO_OPEN_US   = 2000 // Pulse width with the door fully open

	// Serial configuration
	// Format "micros,centi,fault,OOOOOO,door\n", ~40 bytes at 5 lines/sec
	UART_BAUD_RATE = 115200
)

var SERVO_PWM = machine.TCC0
