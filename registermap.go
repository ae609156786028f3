package rtu485

import (
	"encoding/binary"
	"fmt"
	"math"
)

// statusOK marks a register whose last group read succeeded. Any other
// status is the failure text of that read.
const statusOK = "ok"

// DeviceRegister describes one named measurement in a device register map:
// where it lives on the bus, how its bytes are ordered, and how raw counts
// scale to engineering units. Reads fill Value and Status in place.
type DeviceRegister struct {
	Tag       string  `json:"tag"`
	Alias     string  `json:"alias"`
	SlaverId  uint8   `json:"slaverId"`
	Function  uint8   `json:"function"` // 3 or 4
	Address   uint16  `json:"address"`
	Quantity  uint16  `json:"quantity"`  // derived from DataType when zero
	DataType  string  `json:"dataType"`  // uint16 int16 uint32 int32 float32 bool
	DataOrder string  `json:"dataOrder"` // AB BA ABCD DCBA BADC CDAB
	BitMask   uint16  `json:"bitMask"`   // bool extraction mask, 0 means bit 0
	Weight    float64 `json:"weight"`    // scale factor, 0 means 1.0
	Value     [4]byte `json:"value"`     // raw big-endian register bytes
	Status    string  `json:"status"`
}

// Ok reports whether the register holds data from a successful read.
func (r DeviceRegister) Ok() bool {
	return r.Status == statusOK
}

// dataTypeQuantity returns how many 16-bit registers the data type spans.
func dataTypeQuantity(dataType string) (uint16, error) {
	switch dataType {
	case "uint16", "int16", "bool":
		return 1, nil
	case "uint32", "int32", "float32":
		return 2, nil
	}
	return 0, fmt.Errorf("rtu485: unsupported data type %q", dataType)
}

func isValidDataOrder(order string, quantity uint16) bool {
	switch quantity {
	case 1:
		return order == "AB" || order == "BA"
	case 2:
		return order == "ABCD" || order == "DCBA" || order == "BADC" || order == "CDAB"
	}
	return false
}

// Validate checks the register description for consistency.
func (r DeviceRegister) Validate() error {
	if r.Tag == "" {
		return fmt.Errorf("rtu485: register tag is required")
	}
	if r.Function != FuncReadHoldingRegisters && r.Function != FuncReadInputRegisters {
		return fmt.Errorf("rtu485: register %q: maps are read with function 3 or 4, not %d", r.Tag, r.Function)
	}
	if r.SlaverId == BroadcastAddress {
		return fmt.Errorf("rtu485: register %q: the broadcast address cannot be read", r.Tag)
	}
	if err := validateSlaveID(r.SlaverId); err != nil {
		return fmt.Errorf("rtu485: register %q: %w", r.Tag, err)
	}
	quantity, err := dataTypeQuantity(r.DataType)
	if err != nil {
		return fmt.Errorf("rtu485: register %q: %w", r.Tag, err)
	}
	if r.Quantity != 0 && r.Quantity != quantity {
		return fmt.Errorf("rtu485: register %q: quantity %d does not match data type %q",
			r.Tag, r.Quantity, r.DataType)
	}
	if r.DataOrder != "" && !isValidDataOrder(r.DataOrder, quantity) {
		return fmt.Errorf("rtu485: register %q: data order %q does not fit data type %q",
			r.Tag, r.DataOrder, r.DataType)
	}
	return nil
}

// normalized validates r and resolves its defaults: quantity from the data
// type, big-endian order, weight 1.0, bit mask 0x0001.
func (r DeviceRegister) normalized() (DeviceRegister, error) {
	if err := r.Validate(); err != nil {
		return r, err
	}
	quantity, _ := dataTypeQuantity(r.DataType)
	r.Quantity = quantity
	if r.DataOrder == "" {
		if quantity == 1 {
			r.DataOrder = "AB"
		} else {
			r.DataOrder = "ABCD"
		}
	}
	if r.Weight == 0 {
		r.Weight = 1.0
	}
	if r.BitMask == 0 {
		r.BitMask = 0x0001
	}
	return r, nil
}

// DecodedValue carries the reordered raw bytes of one register read plus
// its numeric interpretations.
type DecodedValue struct {
	Raw     []byte
	Float64 float64
	AsType  any
}

// Decode interprets the register's captured bytes per its data type, order
// and weight.
func (r DeviceRegister) Decode() (DecodedValue, error) {
	if !r.Ok() {
		if r.Status == "" {
			return DecodedValue{}, fmt.Errorf("rtu485: register %q has not been read", r.Tag)
		}
		return DecodedValue{}, fmt.Errorf("rtu485: register %q read failed: %s", r.Tag, r.Status)
	}
	raw := reorderRegisterBytes(r.Value, r.DataOrder)
	result := DecodedValue{Raw: raw}
	switch r.DataType {
	case "uint16":
		v := binary.BigEndian.Uint16(raw[:2])
		result.AsType = v
		result.Float64 = float64(v)
	case "int16":
		v := int16(binary.BigEndian.Uint16(raw[:2]))
		result.AsType = v
		result.Float64 = float64(v)
	case "uint32":
		v := binary.BigEndian.Uint32(raw[:4])
		result.AsType = v
		result.Float64 = float64(v)
	case "int32":
		v := int32(binary.BigEndian.Uint32(raw[:4]))
		result.AsType = v
		result.Float64 = float64(v)
	case "float32":
		v := math.Float32frombits(binary.BigEndian.Uint32(raw[:4]))
		result.AsType = v
		result.Float64 = float64(v)
	case "bool":
		mask := r.BitMask
		if mask == 0 {
			mask = 0x0001
		}
		v := binary.BigEndian.Uint16(raw[:2])&mask != 0
		result.AsType = v
		if v {
			result.Float64 = 1
		}
		return result, nil
	default:
		return result, fmt.Errorf("rtu485: unsupported data type %q", r.DataType)
	}
	weight := r.Weight
	if weight == 0 {
		weight = 1.0
	}
	result.Float64 *= weight
	return result, nil
}

// Float64 returns the scaled reading. Failed or undecodable reads come back
// as NaN, so consumers can flag bad samples without extra state.
func (r DeviceRegister) Float64() float64 {
	v, err := r.Decode()
	if err != nil {
		return math.NaN()
	}
	return v.Float64
}

// Bool returns the masked boolean reading; failed reads come back false.
func (r DeviceRegister) Bool() bool {
	v, err := r.Decode()
	if err != nil {
		return false
	}
	if b, ok := v.AsType.(bool); ok {
		return b
	}
	return v.Float64 != 0
}

// reorderRegisterBytes maps the big-endian register bytes captured off the
// wire into the register's declared order. Two-byte orders use the first
// two captured bytes.
func reorderRegisterBytes(data [4]byte, order string) []byte {
	switch order {
	case "AB":
		return []byte{data[0], data[1]}
	case "BA":
		return []byte{data[1], data[0]}
	case "DCBA":
		return []byte{data[3], data[2], data[1], data[0]}
	case "BADC":
		return []byte{data[1], data[0], data[3], data[2]}
	case "CDAB":
		return []byte{data[2], data[3], data[0], data[1]}
	default: // ABCD
		return []byte{data[0], data[1], data[2], data[3]}
	}
}
