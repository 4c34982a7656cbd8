//go:build tinygo

package main

import (
	"errors"
	"machine"
	"time"
)

var errHX711NotReady = errors.New("hx711 not ready")

// hx711 bit-bangs channel A at gain 128.
type hx711 struct {
	dout machine.Pin
	sck  machine.Pin
}

func newHX711(dout, sck machine.Pin) *hx711 {
	dout.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	sck.Configure(machine.PinConfig{Mode: machine.PinOutput})
	sck.Low()
	return &hx711{dout: dout, sck: sck}
}

// Ready reports whether a conversion is waiting (DOUT pulled low).
func (h *hx711) Ready() bool {
	return !h.dout.Get()
}

// Read clocks out one 24-bit two's complement sample.
func (h *hx711) Read() (int32, error) {
	if !h.Ready() {
		return 0, errHX711NotReady
	}

	var value uint32
	for range 24 {
		h.pulse()
		value <<= 1
		if h.dout.Get() {
			value |= 1
		}
	}
	// 25th pulse selects channel A, gain 128 for the next conversion
	h.pulse()

	if value&0x800000 != 0 {
		value |= 0xFF000000
	}
	return int32(value), nil
}

func (h *hx711) pulse() {
	h.sck.High()
	time.Sleep(time.Microsecond)
	h.sck.Low()
	time.Sleep(time.Microsecond)
}
