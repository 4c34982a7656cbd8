//go:build tinygo

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/thruststand/pkg/stand"
)

func main() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})
	conn := console{port: machine.Serial}

	// Give the host a moment to attach before the header goes out
	time.Sleep(time.Second)

	cfg := stand.DefaultConfig()
	cfg.Sensors.VRef = float32(ADC_REFERENCE_MV) / 1000
	cfg.Sensors.ADCBits = ADC_RESOLUTION

	escOut, err := newESC(escPWM, PIN_ESC)
	if err != nil {
		println("fatal: esc output:", err.Error())
		park()
	}

	s, err := stand.New(cfg, stand.Hardware{
		Amplifier: newHX711(PIN_HX711_DOUT, PIN_HX711_SCK),
		ESC:       escOut,
		Hall:      hall{pin: PIN_HALL},
		Analog:    newAnalog(),
	}, conn)
	if err != nil {
		println("fatal:", err.Error())
		park()
	}

	ctx := context.Background()
	if err := s.Boot(ctx, time.Now()); err != nil {
		// The stand already reported the fault; stop touching the ESC and sensors.
		park()
	}

	if err := s.Run(ctx, conn); err != nil {
		println("fatal:", err.Error())
	}
	park()
}

// park blinks the LED forever. Only a reset leaves the halted state.
func park() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.Set(!led.Get())
		time.Sleep(HALT_BLINK_MS * time.Millisecond)
	}
}
