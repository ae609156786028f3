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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVRegisterParser converts between CSV register maps and DeviceRegister
// slices. The column set mirrors the DeviceRegister fields; address and
// bitMask accept both decimal and 0x-prefixed hex, since datasheets quote
// register addresses in hex.
type CSVRegisterParser struct {
	headers []string
}

// NewCSVRegisterParser creates a parser with the canonical column order.
func NewCSVRegisterParser() *CSVRegisterParser {
	return &CSVRegisterParser{
		headers: []string{
			"tag",
			"alias",
			"slaverId",
			"function",
			"address",
			"quantity",
			"dataType",
			"dataOrder",
			"bitMask",
			"weight",
		},
	}
}

// ParseCSV parses a register map and returns the normalized registers.
func (p *CSVRegisterParser) ParseCSV(reader io.Reader) ([]DeviceRegister, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("rtu485: failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("rtu485: empty CSV register map")
	}

	headerMap := make(map[string]int)
	for i, h := range records[0] {
		headerMap[strings.TrimSpace(h)] = i
	}
	for _, field := range []string{"tag", "slaverId", "function", "address", "dataType"} {
		if _, exists := headerMap[field]; !exists {
			return nil, fmt.Errorf("rtu485: missing required CSV column %q", field)
		}
	}

	var registers []DeviceRegister
	for i, record := range records[1:] {
		register, err := p.parseRecord(record, headerMap)
		if err != nil {
			return nil, fmt.Errorf("rtu485: error parsing row %d: %w", i+2, err)
		}
		normalized, err := register.normalized()
		if err != nil {
			return nil, fmt.Errorf("rtu485: validation error for row %d (tag %q): %w", i+2, register.Tag, err)
		}
		registers = append(registers, normalized)
	}
	return registers, nil
}

// parseRecord parses one CSV row into a DeviceRegister.
func (p *CSVRegisterParser) parseRecord(record []string, headerMap map[string]int) (DeviceRegister, error) {
	var register DeviceRegister

	getField := func(fieldName string) string {
		if idx, exists := headerMap[fieldName]; exists && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	// Numeric columns allow 0x-prefixed hex alongside decimal.
	parseUintField := func(fieldName string, bitSize int) (uint64, error) {
		strVal := getField(fieldName)
		if strVal == "" {
			return 0, fmt.Errorf("%q is required", fieldName)
		}
		base := 10
		if strings.HasPrefix(strVal, "0x") || strings.HasPrefix(strVal, "0X") {
			base = 0
		}
		val, err := strconv.ParseUint(strVal, base, bitSize)
		if err != nil {
			return 0, fmt.Errorf("invalid %q: %w", fieldName, err)
		}
		return val, nil
	}

	register.Tag = getField("tag")
	if register.Tag == "" {
		return register, fmt.Errorf("%q is required", "tag")
	}
	register.Alias = getField("alias")

	slaveId, err := parseUintField("slaverId", 8)
	if err != nil {
		return register, err
	}
	register.SlaverId = uint8(slaveId)

	function, err := parseUintField("function", 8)
	if err != nil {
		return register, err
	}
	register.Function = uint8(function)

	address, err := parseUintField("address", 16)
	if err != nil {
		return register, err
	}
	register.Address = uint16(address)

	if getField("quantity") != "" {
		quantity, err := parseUintField("quantity", 16)
		if err != nil {
			return register, err
		}
		register.Quantity = uint16(quantity)
	}

	register.DataType = getField("dataType")
	if register.DataType == "" {
		return register, fmt.Errorf("%q is required", "dataType")
	}
	register.DataOrder = getField("dataOrder")

	if getField("bitMask") != "" {
		bitMask, err := parseUintField("bitMask", 16)
		if err != nil {
			return register, err
		}
		register.BitMask = uint16(bitMask)
	}

	if weightStr := getField("weight"); weightStr != "" {
		weight, err := strconv.ParseFloat(weightStr, 64)
		if err != nil {
			return register, fmt.Errorf("invalid %q: %w", "weight", err)
		}
		register.Weight = weight
	}

	return register, nil
}

// ToCSV writes registers as a register map with the canonical column order.
func (p *CSVRegisterParser) ToCSV(registers []DeviceRegister, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(p.headers); err != nil {
		return fmt.Errorf("rtu485: failed to write CSV header: %w", err)
	}
	for _, r := range registers {
		record := []string{
			r.Tag,
			r.Alias,
			strconv.FormatUint(uint64(r.SlaverId), 10),
			strconv.FormatUint(uint64(r.Function), 10),
			fmt.Sprintf("0x%04X", r.Address),
			strconv.FormatUint(uint64(r.Quantity), 10),
			r.DataType,
			r.DataOrder,
			fmt.Sprintf("0x%04X", r.BitMask),
			strconv.FormatFloat(r.Weight, 'f', -1, 64),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("rtu485: failed to write register %q: %w", r.Tag, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// ParseCSVFromString is a convenience wrapper over ParseCSV.
func (p *CSVRegisterParser) ParseCSVFromString(data string) ([]DeviceRegister, error) {
	return p.ParseCSV(strings.NewReader(data))
}

// ToCSVString is a convenience wrapper over ToCSV.
func (p *CSVRegisterParser) ToCSVString(registers []DeviceRegister) (string, error) {
	var builder strings.Builder
	if err := p.ToCSV(registers, &builder); err != nil {
		return "", err
	}
	return builder.String(), nil
}
