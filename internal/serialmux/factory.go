package serialmux

import (
	"go.bug.st/serial"
)

// ArduinoBaudRate matches the sketch's Serial.begin rate.
const ArduinoBaudRate = 115200

// NewRealSerialMux creates a SerialMux backed by a real serial port at the
// given path, configured for the Arduino sensor link (115200 8N1).
func NewRealSerialMux(path string) (*SerialMux, error) {
	mode := &serial.Mode{
		BaudRate: ArduinoBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux(port), nil
}
