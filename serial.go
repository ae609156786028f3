// Copyright (C) 2025  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package rtu485

import (
	"fmt"
	"io"
	"time"

	goserial "github.com/hootrhino/goserial"
)

// SerialConfig describes the RS485 serial line. Meters in the PZEM family
// ship talking 9600 8N1, which is what the zero value resolves to.
type SerialConfig struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0 or COM3.
	Device   string
	BaudRate int    // default 9600
	DataBits int    // default 8
	StopBits int    // default 1
	Parity   string // "N", "E" or "O"; default "N"

	// Timeout is the port-level read backstop. Zero keeps port reads
	// blocking; the transporter enforces its own per-transaction deadlines
	// either way.
	Timeout time.Duration
}

// OpenSerial opens the serial device for use as a transaction link.
func OpenSerial(config SerialConfig) (io.ReadWriteCloser, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("rtu485: serial device path is required")
	}
	if config.BaudRate <= 0 {
		config.BaudRate = 9600
	}
	if config.DataBits <= 0 {
		config.DataBits = 8
	}
	if config.StopBits <= 0 {
		config.StopBits = 1
	}
	if config.Parity == "" {
		config.Parity = "N"
	}
	port, err := goserial.Open(&goserial.Config{
		Address:  config.Device,
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: config.StopBits,
		Parity:   config.Parity,
		Timeout:  config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("rtu485: open serial %s: %w", config.Device, err)
	}
	return port, nil
}
