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

import "fmt"

// Function codes understood by this master.
const (
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleRegister    = 0x06
	FuncWriteMultipleRegisters = 0x10

	// FuncResetEnergy is the vendor opcode PZEM-family energy meters use to
	// clear their energy accumulators. It is outside the public function
	// code range and has no register address.
	FuncResetEnergy = 0x42
)

// resetEnergyErrorByte is the marker multi-phase meters place in the
// function code position of a failed phase reset reply. They do not set the
// standard exception bit, so this byte is matched literally.
const resetEnergyErrorByte = 0xC2

// Slave addressing.
const (
	// BroadcastAddress addresses every slave at once. Nothing replies to it.
	BroadcastAddress = 0x00
	// MaxRoutableAddress is the highest standard point-to-point address.
	MaxRoutableAddress = 0xF7
	// GeneralAddress is the vendor general-call address any meter on a
	// single-device bus answers regardless of its configured address.
	GeneralAddress = 0xF8
)

// maxFrameSize bounds encoded requests and captured replies alike.
const maxFrameSize = 256

// exceptionFrameLen is the size of a standard exception reply:
// address + function + exception code + CRC.
const exceptionFrameLen = 5

// Read and write quantity ceilings follow from maxFrameSize.
const (
	// A read reply is address + function + byte count + data + CRC.
	maxReadQuantity = (maxFrameSize - 5) / 2
	// A write-multiple request is address + function + start address +
	// quantity + byte count + data + CRC.
	maxWriteQuantity = (maxFrameSize - 9) / 2
)

// Fixed reply lengths.
const (
	writeResponseLen      = 8
	resetResponseLen      = 4
	resetPhaseResponseLen = 6
)

// readResponseLen is the shortest complete reply to a read of quantity
// registers.
func readResponseLen(quantity uint16) int {
	return 3 + 2*int(quantity) + 2
}

func validateSlaveID(slaveID uint8) error {
	if slaveID > GeneralAddress {
		return fmt.Errorf("rtu485: invalid slave address 0x%02X, maximum is 0x%02X", slaveID, GeneralAddress)
	}
	return nil
}

// PackFrame assembles a raw frame: slave address, function code, payload,
// CRC low byte first.
func PackFrame(slaveID uint8, functionCode uint8, payload []byte) ([]byte, error) {
	if err := validateSlaveID(slaveID); err != nil {
		return nil, err
	}
	if 2+len(payload)+2 > maxFrameSize {
		return nil, fmt.Errorf("rtu485: %d byte payload does not fit a %d byte frame: %w",
			len(payload), maxFrameSize, ErrCapacity)
	}
	frame := make([]byte, 0, 2+len(payload)+2)
	frame = append(frame, slaveID, functionCode)
	frame = append(frame, payload...)
	return AppendCRC(frame), nil
}

// buildReadRequest encodes a 0x03 or 0x04 request.
func buildReadRequest(slaveID uint8, functionCode uint8, startAddress, quantity uint16) ([]byte, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("rtu485: read quantity must be at least 1")
	}
	if quantity > maxReadQuantity {
		return nil, fmt.Errorf("rtu485: reply for %d registers does not fit a %d byte frame: %w",
			quantity, maxFrameSize, ErrCapacity)
	}
	return PackFrame(slaveID, functionCode, []byte{
		byte(startAddress >> 8), byte(startAddress & 0xFF),
		byte(quantity >> 8), byte(quantity & 0xFF),
	})
}

// buildWriteSingleRequest encodes a 0x06 request. The value travels in the
// caller's register byte order so it lands in the device the same way reads
// come back.
func buildWriteSingleRequest(slaveID uint8, address, value uint16, order ByteOrder) ([]byte, error) {
	valueBytes, err := EncodeRegisters([]uint16{value}, order)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 4)
	payload = append(payload, byte(address>>8), byte(address&0xFF))
	payload = append(payload, valueBytes...)
	return PackFrame(slaveID, FuncWriteSingleRegister, payload)
}

// buildWriteMultipleRequest encodes a 0x10 request.
func buildWriteMultipleRequest(slaveID uint8, startAddress uint16, values []uint16, order ByteOrder) ([]byte, error) {
	quantity := len(values)
	if quantity == 0 {
		return nil, fmt.Errorf("rtu485: write needs at least 1 register value")
	}
	if quantity > maxWriteQuantity {
		return nil, fmt.Errorf("rtu485: request for %d registers does not fit a %d byte frame: %w",
			quantity, maxFrameSize, ErrCapacity)
	}
	data, err := EncodeRegisters(values, order)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 5+len(data))
	payload = append(payload,
		byte(startAddress>>8), byte(startAddress&0xFF),
		byte(quantity>>8), byte(quantity&0xFF),
		byte(len(data)))
	payload = append(payload, data...)
	return PackFrame(slaveID, FuncWriteMultipleRegisters, payload)
}

// buildResetEnergyRequest encodes the bare accumulator reset.
func buildResetEnergyRequest(slaveID uint8) ([]byte, error) {
	return PackFrame(slaveID, FuncResetEnergy, nil)
}

// buildResetEnergyPhaseRequest encodes the per-phase reset used by
// multi-phase meters. The first payload byte is reserved and always zero.
func buildResetEnergyPhaseRequest(slaveID uint8, phase uint8) ([]byte, error) {
	return PackFrame(slaveID, FuncResetEnergy, []byte{0x00, phase})
}
