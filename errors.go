package rtu485

import (
	"errors"
	"fmt"
)

// Failure classes shared by every bus transaction. Callers branch with
// errors.Is; slave-signaled failures additionally match errors.As with
// *ExceptionError.
var (
	// ErrTimeout means fewer bytes than the expected minimum arrived before
	// the transaction deadline. A silent bus reports ErrTimeout.
	ErrTimeout = errors.New("rtu485: response timeout")

	// ErrFraming means the reply could not be captured as a frame: the bus
	// carried traffic but the slave address never appeared, or the reply
	// overran the frame buffer.
	ErrFraming = errors.New("rtu485: framing error")

	// ErrIntegrity means a captured frame failed its CRC check.
	ErrIntegrity = errors.New("rtu485: crc mismatch")

	// ErrCapacity means a request or reply cannot fit the frame buffer.
	ErrCapacity = errors.New("rtu485: frame buffer capacity exceeded")
)

// ExceptionError is a failure signaled by the slave itself: a standard
// exception reply (function code with the high bit set) or the vendor error
// byte the reset-energy phase variant uses instead.
type ExceptionError struct {
	Function uint8 // requested function code, high bit cleared
	Code     uint8 // exception code, 0 when the reply carried none
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("rtu485: exception from slave: function 0x%02X code 0x%02X (%s)",
		e.Function, e.Code, exceptionMessage(e.Code))
}

// exceptionMessage maps a Modbus exception code to its standard description.
func exceptionMessage(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave device busy"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}
