//go:build tinygo

package main

import "machine"

const (
	// Load cell amplifier (HX711)
	PIN_HX711_DOUT = machine.GP16
	PIN_HX711_SCK  = machine.GP17

	// ESC signal, PWM slice 3 channel A
	PIN_ESC = machine.GP22

	// Hall effect RPM sensor, falling edge per magnet
	PIN_HALL = machine.GP15

	// Analog front end
	PIN_VOLTAGE_ADC     = machine.ADC0 // GP26, battery divider
	PIN_CURRENT_ADC     = machine.ADC1 // GP27, hall current sensor
	PIN_TEMPERATURE_ADC = machine.ADC2 // GP28, NTC divider

	// ADC configuration
	ADC_REFERENCE_MV = 3300
	ADC_RESOLUTION   = 12

	// Serial configuration. The host reader defaults to 9600 baud; a USB CDC
	// console ignores the rate.
	UART_BAUD_RATE = 9600

	// Delay between halted-state heartbeats
	HALT_BLINK_MS = 500
)

// escPWM drives PIN_ESC.
var escPWM = machine.PWM3
