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

// crcTable caches the 256 remainders of the Modbus CRC-16 polynomial
// 0xA001 (0x8005 reflected).
var crcTable [256]uint16

func init() {
	const polynomial = 0xA001
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CRC16 computes the Modbus CRC-16 of data, seeded with 0xFFFF.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		tableIndex := uint8(crc) ^ b
		crc = (crc >> 8) ^ crcTable[tableIndex]
	}
	return crc
}

// AppendCRC appends the CRC-16 of frame to it, low byte first, and returns
// the extended slice.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// VerifyCRC reports whether the trailing two bytes of frame are the CRC-16
// of everything before them. The CRC travels low byte first on the wire.
// Frames shorter than the CRC itself never verify.
func VerifyCRC(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	dataLen := len(frame) - 2
	receivedCRC := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return CRC16(frame[:dataLen]) == receivedCRC
}
