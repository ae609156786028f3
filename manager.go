package rtu485

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// RegisterReader is the read surface a register manager needs. *Client
// implements it; tests substitute fakes.
type RegisterReader interface {
	ReadHoldingRegisters(slaveID uint8, startAddress, quantity uint16, order ByteOrder) ([]uint16, error)
	ReadInputRegisters(slaveID uint8, startAddress, quantity uint16, order ByteOrder) ([]uint16, error)
}

// OnDataFunc receives a snapshot of one register group after each poll,
// including failed reads, whose registers carry their failure status.
type OnDataFunc func(registers []DeviceRegister)

// OnErrorFunc receives each group read failure.
type OnErrorFunc func(err error)

// RegisterManager owns a loaded register map. Each poll turns the map's
// grouped reads into per-register values and dispatches the callbacks
// synchronously, in bus order.
type RegisterManager struct {
	client RegisterReader

	mu     sync.Mutex
	groups [][]DeviceRegister

	onData  atomic.Value // OnDataFunc
	onError atomic.Value // OnErrorFunc
}

// NewRegisterManager creates a manager reading through client.
func NewRegisterManager(client RegisterReader) *RegisterManager {
	return &RegisterManager{client: client}
}

// Load validates and normalizes the register map and groups contiguous
// registers into shared bus reads. Tags must be unique: they key results.
func (m *RegisterManager) Load(registers []DeviceRegister) error {
	prepared := make([]DeviceRegister, 0, len(registers))
	tags := make(map[string]bool, len(registers))
	for _, r := range registers {
		normalized, err := r.normalized()
		if err != nil {
			return err
		}
		if tags[normalized.Tag] {
			return fmt.Errorf("rtu485: duplicate register tag %q", normalized.Tag)
		}
		tags[normalized.Tag] = true
		prepared = append(prepared, normalized)
	}
	m.mu.Lock()
	m.groups = GroupDeviceRegisters(prepared)
	m.mu.Unlock()
	return nil
}

// SetOnData installs the per-group data callback.
func (m *RegisterManager) SetOnData(fn OnDataFunc) {
	m.onData.Store(fn)
}

// SetOnError installs the read failure callback.
func (m *RegisterManager) SetOnError(fn OnErrorFunc) {
	m.onError.Store(fn)
}

// Groups returns a snapshot of the grouped register map.
func (m *RegisterManager) Groups() [][]DeviceRegister {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := make([][]DeviceRegister, len(m.groups))
	for i, g := range m.groups {
		groups[i] = append([]DeviceRegister(nil), g...)
	}
	return groups
}

// Poll reads every group once, fills in values and statuses, and dispatches
// the callbacks. It returns the group read errors it dispatched.
func (m *RegisterManager) Poll() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, group := range m.groups {
		if err := m.readGroup(group); err != nil {
			errs = append(errs, err)
			m.dispatchError(err)
		}
		m.dispatchData(group)
	}
	return errs
}

// readGroup issues the group's covering read and scatters the data into
// each register's Value. On failure every register in the group carries the
// failure text in its status.
func (m *RegisterManager) readGroup(group []DeviceRegister) error {
	start, quantity := groupSpan(group)
	slaveID := group[0].SlaverId

	var values []uint16
	var err error
	switch group[0].Function {
	case FuncReadHoldingRegisters:
		values, err = m.client.ReadHoldingRegisters(slaveID, start, quantity, BigEndian)
	case FuncReadInputRegisters:
		values, err = m.client.ReadInputRegisters(slaveID, start, quantity, BigEndian)
	default:
		err = fmt.Errorf("rtu485: group function 0x%02X is not readable", group[0].Function)
	}
	if err != nil {
		for i := range group {
			group[i].Status = err.Error()
		}
		return err
	}

	// Rebuild the wire bytes so each register slices out its own span in
	// big-endian form; per-register orders are applied at decode time.
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[2*i:], v)
	}
	for i := range group {
		offset := 2 * int(group[i].Address-start)
		group[i].Value = [4]byte{}
		copy(group[i].Value[:], raw[offset:offset+2*int(group[i].Quantity)])
		group[i].Status = statusOK
	}
	return nil
}

func (m *RegisterManager) dispatchData(group []DeviceRegister) {
	fn, _ := m.onData.Load().(OnDataFunc)
	if fn == nil {
		return
	}
	snapshot := make([]DeviceRegister, len(group))
	copy(snapshot, group)
	fn(snapshot)
}

func (m *RegisterManager) dispatchError(err error) {
	if fn, _ := m.onError.Load().(OnErrorFunc); fn != nil {
		fn(err)
	}
}
