// Package sensor converts raw ADC readings from the stand's analog front end
// into physical units. It uses float32 math so the same code runs on the
// microcontroller.
package sensor

import (
	"github.com/chewxy/math32"
)

const kelvin = 273.15

// Params describes the analog front end.
type Params struct {
	VRef    float32 // ADC reference voltage
	ADCBits int

	// Battery voltage divider: Vin -- R1 -- ADC -- R2 -- GND
	DividerR1 float32
	DividerR2 float32

	// Hall effect current sensor
	CurrentZeroVolts float32
	CurrentMVPerAmp  float32

	// NTC thermistor on the low side of a series resistor
	NTCSeriesR  float32
	NTCNominalR float32
	NTCNominalC float32
	NTCBeta     float32
}

// DefaultParams returns a 10-bit 5 V front end with a 30k/7.5k divider, a
// 66 mV/A hall sensor and a 10k B3950 thermistor.
func DefaultParams() Params {
	return Params{
		VRef:             5,
		ADCBits:          10,
		DividerR1:        30000,
		DividerR2:        7500,
		CurrentZeroVolts: 2.5,
		CurrentMVPerAmp:  66,
		NTCSeriesR:       10000,
		NTCNominalR:      10000,
		NTCNominalC:      25,
		NTCBeta:          3950,
	}
}

// Voltage converts a divider reading to battery volts.
func (p Params) Voltage(adc uint16) float32 {
	return DividerVoltage(adc, p.VRef, p.DividerR1, p.DividerR2, p.ADCBits)
}

// Current converts a hall sensor reading to amps.
func (p Params) Current(adc uint16) float32 {
	return HallCurrent(adc, p.VRef, p.CurrentZeroVolts, p.CurrentMVPerAmp, p.ADCBits)
}

// Temperature converts a thermistor reading to °C. NaN for an open or
// shorted sensor.
func (p Params) Temperature(adc uint16) float32 {
	return NTCCelsius(adc, p.ADCBits, p.NTCSeriesR, p.NTCNominalR, p.NTCNominalC, p.NTCBeta)
}

func fullScale(bits int) float32 {
	return float32(uint32(1)<<uint(bits) - 1)
}

// ADCVolts converts a reading to volts at the ADC pin.
func ADCVolts(adc uint16, vref float32, bits int) float32 {
	return float32(adc) / fullScale(bits) * vref
}

// DividerVoltage returns the voltage on the high side of an r1/r2 divider.
func DividerVoltage(adc uint16, vref, r1, r2 float32, bits int) float32 {
	if r2 == 0 {
		return 0
	}
	return ADCVolts(adc, vref, bits) * (r1 + r2) / r2
}

// HallCurrent returns the current through a hall sensor with the given zero
// offset and sensitivity.
func HallCurrent(adc uint16, vref, zeroVolts, mvPerAmp float32, bits int) float32 {
	if mvPerAmp == 0 {
		return 0
	}
	return (ADCVolts(adc, vref, bits) - zeroVolts) / (mvPerAmp / 1000)
}

// NTCCelsius applies the beta equation to a thermistor reading.
func NTCCelsius(adc uint16, bits int, seriesR, nominalR, nominalC, beta float32) float32 {
	full := fullScale(bits)
	v := float32(adc)
	if v <= 0 || v >= full || beta == 0 || nominalR == 0 {
		return math32.NaN()
	}

	r := seriesR * v / (full - v)
	invT := 1/(nominalC+kelvin) + math32.Log(r/nominalR)/beta
	return 1/invT - kelvin
}
