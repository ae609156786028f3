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
	"sync"
	"time"
)

// Transaction timing, proven on PZEM-family hardware. The settle time
// covers transceiver turn-on latency, the guard time lets queued bytes
// finish shifting out of the UART before the bus direction flips back, and
// the idle gap delimits a reply because RTU frames carry no length field.
const (
	directionSettleTime = 1 * time.Millisecond
	transmitGuardTime   = 10 * time.Millisecond
	responseIdleGap     = 10 * time.Millisecond

	// drainPollTime is how long the pre-transaction drain waits before
	// deciding the receive path is quiet.
	drainPollTime = 2 * time.Millisecond

	// DefaultReadTimeout bounds read transactions unless the client is
	// configured otherwise.
	DefaultReadTimeout = 100 * time.Millisecond

	// writeResponseTimeout bounds write and reset transactions. Devices may
	// persist parameters before answering, so it sits well above the read
	// default and is not configurable.
	writeResponseTimeout = 300 * time.Millisecond
)

// DirectionPin drives the driver-enable line of a half-duplex RS485
// transceiver: asserted to transmit, released to listen.
type DirectionPin interface {
	Set(transmit bool) error
}

// DirectionPinFunc adapts a plain function to DirectionPin.
type DirectionPinFunc func(transmit bool) error

func (f DirectionPinFunc) Set(transmit bool) error { return f(transmit) }

// BusDirector turns the bus around between the transmit and receive halves
// of a transaction. With no pin configured every switch is a no-op, for
// transceivers that auto-direct in hardware.
type BusDirector struct {
	pin DirectionPin
}

// NewBusDirector wraps pin, which may be nil.
func NewBusDirector(pin DirectionPin) *BusDirector {
	return &BusDirector{pin: pin}
}

// EnableTransmit asserts the direction line for driving, then waits out the
// transceiver settle time before any byte may be written.
func (d *BusDirector) EnableTransmit() error {
	return d.set(true)
}

// EnableReceive releases the direction line for listening.
func (d *BusDirector) EnableReceive() error {
	return d.set(false)
}

func (d *BusDirector) set(transmit bool) error {
	if d.pin == nil {
		return nil
	}
	if err := d.pin.Set(transmit); err != nil {
		return fmt.Errorf("rtu485: direction switch failed: %w", err)
	}
	time.Sleep(directionSettleTime)
	return nil
}

type readResult struct {
	b   byte
	err error
}

// Transporter owns one serial link and runs one transaction at a time over
// it: drain stale input, turn the bus around, write the request, turn back,
// capture the reply. The mutex is the only concurrency control; overlapping
// callers serialize rather than interleave on the shared wire.
type Transporter struct {
	mu       sync.Mutex
	port     io.ReadWriteCloser
	director *BusDirector
	logger   *SimpleLogger

	// pending holds the single outstanding read against the port. A read
	// that outlives its poll window stays pending, so no byte is lost
	// between polls.
	pending chan readResult
}

// NewTransporter wraps an open serial link. pin may be nil when the
// transceiver switches direction on its own.
func NewTransporter(port io.ReadWriteCloser, pin DirectionPin) *Transporter {
	t := &Transporter{
		port:     port,
		director: NewBusDirector(pin),
	}
	// The bus rests in receive.
	_ = t.director.EnableReceive()
	return t
}

// SetLogger installs a logger for frame-level tracing. Nil disables it.
func (t *Transporter) SetLogger(logger *SimpleLogger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// responseSpec tells a transaction what reply to expect.
type responseSpec struct {
	slaveID uint8
	minLen  int           // lower bound for a complete reply
	timeout time.Duration // hard deadline for the receive half

	// vendorErr switches exception detection from the standard high-bit
	// flag to a literal marker byte. Only the phase-selector reset sets it;
	// the two schemes are distinct device-family behaviors and are never
	// unified.
	vendorErr byte

	// raw skips exception and CRC classification and hands back whatever
	// was captured.
	raw bool
}

// Transact runs one request/response exchange and classifies the outcome.
// There are no retries; callers that want them layer their own.
func (t *Transporter) Transact(request []byte, spec responseSpec) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, fmt.Errorf("rtu485: transporter is closed")
	}
	if spec.minLen < resetResponseLen {
		spec.minLen = resetResponseLen
	}

	t.debugf("DEBUG: rtu485 tx % X\n", request)

	t.drainInput()

	if err := t.director.EnableTransmit(); err != nil {
		return nil, err
	}
	if err := t.writeFull(request); err != nil {
		// Do not leave the bus driven after a failed write.
		_ = t.director.EnableReceive()
		return nil, err
	}
	time.Sleep(transmitGuardTime)
	if err := t.director.EnableReceive(); err != nil {
		return nil, err
	}

	response, sawTraffic, overflowed, err := t.collectResponse(spec)
	if err != nil {
		return nil, fmt.Errorf("rtu485: link read failed: %w", err)
	}
	t.debugf("DEBUG: rtu485 rx % X\n", response)

	if overflowed {
		return nil, fmt.Errorf("rtu485: reply from slave 0x%02X exceeds %d bytes: %w",
			spec.slaveID, maxFrameSize, ErrFraming)
	}
	if len(response) == 0 {
		if sawTraffic {
			return nil, fmt.Errorf("rtu485: slave address 0x%02X never seen in bus traffic: %w",
				spec.slaveID, ErrFraming)
		}
		return nil, fmt.Errorf("rtu485: no reply from slave 0x%02X within %v: %w",
			spec.slaveID, spec.timeout, ErrTimeout)
	}
	if spec.raw {
		return response, nil
	}

	// Exception markers count before the CRC check: a slave that signals
	// failure is reported as such even when the rest of the frame is
	// mangled.
	if exc := exceptionFrom(response, spec.vendorErr); exc != nil {
		return nil, exc
	}
	if len(response) < spec.minLen {
		return nil, fmt.Errorf("rtu485: partial reply from slave 0x%02X, %d of %d bytes: %w",
			spec.slaveID, len(response), spec.minLen, ErrTimeout)
	}
	if !VerifyCRC(response) {
		return nil, fmt.Errorf("rtu485: reply from slave 0x%02X: %w", spec.slaveID, ErrIntegrity)
	}
	return response, nil
}

// exceptionFrom inspects the function code position of a captured reply.
// In vendor mode only the literal marker byte counts; otherwise the
// standard high bit does.
func exceptionFrom(response []byte, vendorErr byte) *ExceptionError {
	if len(response) < 2 {
		return nil
	}
	if vendorErr != 0 {
		if response[1] != vendorErr {
			return nil
		}
	} else if response[1]&0x80 == 0 {
		return nil
	}
	exc := &ExceptionError{Function: response[1] &^ 0x80}
	if len(response) > 2 {
		exc.Code = response[2]
	}
	return exc
}

// collectResponse polls the link until the reply is complete or the
// deadline passes. Bytes before the slave address are resync noise and are
// discarded; the address byte and everything after it are kept, up to
// maxFrameSize. Completion needs both the expected minimum length and an
// idle gap, because a longer reply may still be in flight when the minimum
// is reached.
func (t *Transporter) collectResponse(spec responseSpec) (response []byte, sawTraffic, overflowed bool, err error) {
	deadline := time.Now().Add(spec.timeout)
	buf := make([]byte, 0, maxFrameSize)
	matched := false
	var lastByte time.Time

	for {
		minLen := spec.minLen
		// An exception reply is shorter than any successful reply, so the
		// bound shrinks as soon as the marker shows up.
		if !spec.raw && len(buf) >= 2 && buf[1]&0x80 != 0 && exceptionFrameLen < minLen {
			minLen = exceptionFrameLen
		}
		if len(buf) >= minLen && time.Since(lastByte) >= responseIdleGap {
			break
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if len(buf) >= minLen {
			if gap := responseIdleGap - time.Since(lastByte); gap < wait {
				wait = gap
			}
		}
		r, ok := t.pollByte(wait)
		if !ok {
			continue
		}
		if r.err != nil {
			return buf, sawTraffic, overflowed, r.err
		}
		sawTraffic = true
		if !matched && r.b == spec.slaveID {
			matched = true
		}
		if !matched {
			continue
		}
		if len(buf) >= maxFrameSize {
			overflowed = true
			continue
		}
		buf = append(buf, r.b)
		lastByte = time.Now()
	}
	return buf, sawTraffic, overflowed, nil
}

// pollByte waits up to wait for the next byte from the link. A read that
// misses its window stays pending and is delivered by a later poll.
func (t *Transporter) pollByte(wait time.Duration) (readResult, bool) {
	if t.pending == nil {
		ch := make(chan readResult, 1)
		t.pending = ch
		port := t.port
		go func() {
			var one [1]byte
			for {
				n, err := port.Read(one[:])
				if n > 0 {
					ch <- readResult{b: one[0]}
					return
				}
				if err != nil {
					ch <- readResult{err: err}
					return
				}
				// Some serial drivers poll with n == 0 and no error.
				time.Sleep(time.Millisecond)
			}
		}()
	}
	select {
	case r := <-t.pending:
		t.pending = nil
		return r, true
	case <-time.After(wait):
		return readResult{}, false
	}
}

// drainInput discards whatever a prior exchange left in the receive path.
func (t *Transporter) drainInput() {
	for {
		r, ok := t.pollByte(drainPollTime)
		if !ok || r.err != nil {
			return
		}
	}
}

func (t *Transporter) writeFull(data []byte) error {
	written := 0
	for written < len(data) {
		n, err := t.port.Write(data[written:])
		if err != nil {
			return fmt.Errorf("rtu485: write failed after %d of %d bytes: %w", written, len(data), err)
		}
		written += n
	}
	return nil
}

func (t *Transporter) debugf(format string, args ...any) {
	if t.logger != nil {
		fmt.Fprintf(t.logger, format, args...)
	}
}

// IsConnected reports whether the link is still open.
func (t *Transporter) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Close closes the underlying link. Further transactions fail.
func (t *Transporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
