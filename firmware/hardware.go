//go:build tinygo

package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/servo"

	"github.com/itohio/thruststand/pkg/stand"
)

// esc outputs the throttle pulse through a 50 Hz servo signal.
type esc struct {
	servo servo.Servo
}

func newESC(pwm servo.PWM, pin machine.Pin) (*esc, error) {
	s, err := servo.New(pwm, pin)
	if err != nil {
		return nil, err
	}
	return &esc{servo: s}, nil
}

func (e *esc) SetPulseWidth(us uint32) error {
	e.servo.SetMicroseconds(int16(us))
	return nil
}

// hall counts falling edges from the RPM sensor in an interrupt.
type hall struct {
	pin machine.Pin
}

func (h hall) Listen(onEdge func()) error {
	h.pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return h.pin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		onEdge()
	})
}

// analog reads the front end ADCs. machine.ADC returns left-aligned 16-bit
// values; they are shifted down to the configured resolution.
type analog struct {
	channels [3]machine.ADC
	shift    uint
}

func newAnalog() *analog {
	machine.InitADC()

	a := &analog{shift: 16 - ADC_RESOLUTION}
	cfg := machine.ADCConfig{Reference: ADC_REFERENCE_MV, Resolution: ADC_RESOLUTION}
	for i, pin := range []machine.Pin{PIN_VOLTAGE_ADC, PIN_CURRENT_ADC, PIN_TEMPERATURE_ADC} {
		a.channels[i] = machine.ADC{Pin: pin}
		a.channels[i].Configure(cfg)
	}
	return a
}

func (a *analog) Read(ch stand.Channel) uint16 {
	if ch < 0 || int(ch) >= len(a.channels) {
		return 0
	}
	return a.channels[ch].Get() >> a.shift
}

// console adapts the serial port to a blocking reader. The UART returns
// (0, nil) when empty, which bufio.Scanner treats as no progress.
type console struct {
	port machine.Serialer
}

func (c console) Read(p []byte) (int, error) {
	for c.port.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	n := 0
	for n < len(p) && c.port.Buffered() > 0 {
		b, err := c.port.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (c console) Write(p []byte) (int, error) {
	return c.port.Write(p)
}
