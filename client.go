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
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// ClientConfig configures a Client. The zero value works: default read
// timeout, no direction pin, no tracing.
type ClientConfig struct {
	// ReadTimeout bounds read transactions. Writes and resets use a fixed
	// longer deadline. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// DirectionPin drives the RS485 transceiver direction line. Leave nil
	// for auto-directing hardware.
	DirectionPin DirectionPin

	// Logger receives frame-level traces at debug level. Nil disables them.
	Logger *SimpleLogger
}

// Client is the master side of one RS485 bus. It owns the link and runs
// transactions strictly one at a time; it is safe for concurrent use.
type Client struct {
	mu          sync.RWMutex
	transporter *Transporter
	readTimeout time.Duration
}

// NewClient wraps an open serial link, typically from OpenSerial.
func NewClient(port io.ReadWriteCloser, config ClientConfig) *Client {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	transporter := NewTransporter(port, config.DirectionPin)
	transporter.SetLogger(config.Logger)
	return &Client{
		transporter: transporter,
		readTimeout: config.ReadTimeout,
	}
}

// SetReadTimeout changes the deadline for subsequent read transactions.
func (c *Client) SetReadTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	c.mu.Lock()
	c.readTimeout = timeout
	c.mu.Unlock()
}

// ReadTimeout returns the current read transaction deadline.
func (c *Client) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// SetLogger installs a logger for frame-level tracing. Nil disables it.
func (c *Client) SetLogger(logger *SimpleLogger) {
	c.transporter.SetLogger(logger)
}

// ReadHoldingRegisters reads quantity registers from the holding space of
// slaveID and decodes each one under the given byte order.
func (c *Client) ReadHoldingRegisters(slaveID uint8, startAddress, quantity uint16, order ByteOrder) ([]uint16, error) {
	return c.readRegisters(FuncReadHoldingRegisters, slaveID, startAddress, quantity, order)
}

// ReadInputRegisters reads quantity registers from the input space of
// slaveID. PZEM-family meters expose their measurements here.
func (c *Client) ReadInputRegisters(slaveID uint8, startAddress, quantity uint16, order ByteOrder) ([]uint16, error) {
	return c.readRegisters(FuncReadInputRegisters, slaveID, startAddress, quantity, order)
}

func (c *Client) readRegisters(functionCode uint8, slaveID uint8, startAddress, quantity uint16, order ByteOrder) ([]uint16, error) {
	request, err := buildReadRequest(slaveID, functionCode, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	response, err := c.transporter.Transact(request, responseSpec{
		slaveID: slaveID,
		minLen:  readResponseLen(quantity),
		timeout: c.ReadTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("rtu485: read func 0x%02X slave 0x%02X addr 0x%04X: %w",
			functionCode, slaveID, startAddress, err)
	}
	if response[1] != functionCode {
		return nil, fmt.Errorf("rtu485: reply function code 0x%02X does not match request 0x%02X (slave 0x%02X)",
			response[1], functionCode, slaveID)
	}
	if int(response[2]) != 2*int(quantity) {
		return nil, fmt.Errorf("rtu485: reply byte count %d, want %d (slave 0x%02X)",
			response[2], 2*quantity, slaveID)
	}
	return DecodeRegisters(response[3:], quantity, order)
}

// WriteSingleRegister writes one register and checks the device echoed the
// request back verbatim.
func (c *Client) WriteSingleRegister(slaveID uint8, address, value uint16, order ByteOrder) error {
	request, err := buildWriteSingleRequest(slaveID, address, value, order)
	if err != nil {
		return err
	}
	response, err := c.transporter.Transact(request, responseSpec{
		slaveID: slaveID,
		minLen:  writeResponseLen,
		timeout: writeResponseTimeout,
	})
	if err != nil {
		return fmt.Errorf("rtu485: write single slave 0x%02X addr 0x%04X: %w", slaveID, address, err)
	}
	if !bytes.Equal(response[:writeResponseLen-2], request[:writeResponseLen-2]) {
		return fmt.Errorf("rtu485: write single echo mismatch (slave 0x%02X): sent % X, got % X",
			slaveID, request[:writeResponseLen-2], response[:writeResponseLen-2])
	}
	return nil
}

// WriteMultipleRegisters writes a contiguous block of registers. The echo
// carries the function code, start address and register count.
func (c *Client) WriteMultipleRegisters(slaveID uint8, startAddress uint16, values []uint16, order ByteOrder) error {
	request, err := buildWriteMultipleRequest(slaveID, startAddress, values, order)
	if err != nil {
		return err
	}
	response, err := c.transporter.Transact(request, responseSpec{
		slaveID: slaveID,
		minLen:  writeResponseLen,
		timeout: writeResponseTimeout,
	})
	if err != nil {
		return fmt.Errorf("rtu485: write multiple slave 0x%02X addr 0x%04X count %d: %w",
			slaveID, startAddress, len(values), err)
	}
	if !bytes.Equal(response[:writeResponseLen-2], request[:writeResponseLen-2]) {
		return fmt.Errorf("rtu485: write multiple echo mismatch (slave 0x%02X): sent % X, got % X",
			slaveID, request[:writeResponseLen-2], response[:writeResponseLen-2])
	}
	return nil
}

// ResetEnergy clears the meter's energy accumulator. Failure comes back as
// a standard exception reply.
func (c *Client) ResetEnergy(slaveID uint8) error {
	request, err := buildResetEnergyRequest(slaveID)
	if err != nil {
		return err
	}
	_, err = c.transporter.Transact(request, responseSpec{
		slaveID: slaveID,
		minLen:  resetResponseLen,
		timeout: writeResponseTimeout,
	})
	if err != nil {
		return fmt.Errorf("rtu485: reset energy slave 0x%02X: %w", slaveID, err)
	}
	return nil
}

// ResetEnergyPhase clears a single phase accumulator on multi-phase meters.
// These meters mark failure with a literal 0xC2 in the function code
// position instead of the standard exception bit; the two checks stay
// separate on purpose.
func (c *Client) ResetEnergyPhase(slaveID uint8, phase uint8) error {
	request, err := buildResetEnergyPhaseRequest(slaveID, phase)
	if err != nil {
		return err
	}
	_, err = c.transporter.Transact(request, responseSpec{
		slaveID:   slaveID,
		minLen:    resetPhaseResponseLen,
		timeout:   writeResponseTimeout,
		vendorErr: resetEnergyErrorByte,
	})
	if err != nil {
		return fmt.Errorf("rtu485: reset energy phase %d slave 0x%02X: %w", phase, slaveID, err)
	}
	return nil
}

// ExchangeRaw sends a pre-built frame verbatim and returns whatever the bus
// answers, uninterpreted: no exception or CRC classification, only resync
// against the frame's address byte, the idle-gap heuristic and the read
// deadline. minLen is the reply length to wait for before the idle gap may
// complete the capture; values below the 4-byte frame minimum are raised.
func (c *Client) ExchangeRaw(frame []byte, minLen int) ([]byte, error) {
	if len(frame) < resetResponseLen {
		return nil, fmt.Errorf("rtu485: raw frame too short: %d bytes, minimum is %d", len(frame), resetResponseLen)
	}
	if len(frame) > maxFrameSize {
		return nil, fmt.Errorf("rtu485: raw frame of %d bytes: %w", len(frame), ErrCapacity)
	}
	response, err := c.transporter.Transact(frame, responseSpec{
		slaveID: frame[0],
		minLen:  minLen,
		timeout: c.ReadTimeout(),
		raw:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("rtu485: raw exchange with slave 0x%02X: %w", frame[0], err)
	}
	return response, nil
}

// IsConnected reports whether the underlying link is still open.
func (c *Client) IsConnected() bool {
	return c.transporter.IsConnected()
}

// Close closes the underlying link.
func (c *Client) Close() error {
	return c.transporter.Close()
}
