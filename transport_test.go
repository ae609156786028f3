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
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeLink is an in-memory serial link with a scriptable slave side.
type fakeLink struct {
	mu          sync.Mutex
	rx          chan byte
	wrote       []byte
	lastWriteAt time.Time
	onWrite     func(request []byte)
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		rx:     make(chan byte, 1024),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case b := <-l.rx:
		p[0] = b
		return 1, nil
	case <-l.closed:
		return 0, io.EOF
	}
}

func (l *fakeLink) Write(p []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	l.mu.Lock()
	l.wrote = append(l.wrote, p...)
	l.lastWriteAt = time.Now()
	onWrite := l.onWrite
	l.mu.Unlock()
	if onWrite != nil {
		onWrite(append([]byte(nil), p...))
	}
	return len(p), nil
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// feed queues reply bytes for the master to read.
func (l *fakeLink) feed(data []byte) {
	for _, b := range data {
		l.rx <- b
	}
}

// respondFunc arms the slave side to run fn on every request.
func (l *fakeLink) respondFunc(fn func(request []byte)) {
	l.mu.Lock()
	l.onWrite = fn
	l.mu.Unlock()
}

// respondWith arms the slave side to answer every request with reply.
func (l *fakeLink) respondWith(reply []byte) {
	l.respondFunc(func([]byte) { l.feed(reply) })
}

// echoWrites arms the slave side to echo every request verbatim.
func (l *fakeLink) echoWrites() {
	l.respondFunc(func(request []byte) { l.feed(request) })
}

func (l *fakeLink) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.wrote...)
}

func (l *fakeLink) lastWriteTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastWriteAt
}

// fakePin records direction line transitions.
type fakePin struct {
	mu          sync.Mutex
	transitions []bool
	times       []time.Time
}

func (p *fakePin) Set(transmit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, transmit)
	p.times = append(p.times, time.Now())
	return nil
}

func (p *fakePin) recorded() ([]bool, []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.transitions...), append([]time.Time(nil), p.times...)
}

func TestTransact_CompletesWellBeforeDeadline(t *testing.T) {
	link := newFakeLink()
	reply := AppendCRC([]byte{0x11, 0x03, 0x02, 0x00, 0x2A})
	link.respondWith(reply)
	tr := NewTransporter(link, nil)

	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	start := time.Now()
	got, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: 2 * time.Second})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("captured % X, want % X", got, reply)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("completion took %v, the idle gap should end the capture long before the deadline", elapsed)
	}
}

func TestTransact_SilentBusTimesOut(t *testing.T) {
	link := newFakeLink()
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	start := time.Now()
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: 60 * time.Millisecond})
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed < 60*time.Millisecond {
		t.Fatalf("returned after %v, before the deadline", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("deadline overrun: %v", elapsed)
	}
}

func TestTransact_ResyncSkipsLeadingNoise(t *testing.T) {
	link := newFakeLink()
	reply := AppendCRC([]byte{0x11, 0x03, 0x02, 0x01, 0x2C})
	link.respondWith(append([]byte{0x00, 0x9A}, reply...))
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	got, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("captured % X, want % X without the leading noise", got, reply)
	}
}

func TestTransact_TrafficWithoutAddressIsFraming(t *testing.T) {
	link := newFakeLink()
	link.respondWith([]byte{0x01, 0x02, 0x03, 0x04})
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x55, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := tr.Transact(request, responseSpec{slaveID: 0x55, minLen: readResponseLen(1), timeout: 60 * time.Millisecond})
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("error = %v, want ErrFraming", err)
	}
}

func TestTransact_OverrunReplyIsFraming(t *testing.T) {
	link := newFakeLink()
	burst := make([]byte, maxFrameSize+32)
	for i := range burst {
		burst[i] = 0x6E
	}
	burst[0] = 0x11
	link.respondWith(burst)
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	// The expected reply would not even fit the capture buffer, so the
	// capture must be cut at maxFrameSize and flagged.
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: maxFrameSize + 2, timeout: 200 * time.Millisecond})
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("error = %v, want ErrFraming", err)
	}
}

func TestTransact_ExceptionBeatsDeadline(t *testing.T) {
	link := newFakeLink()
	link.respondWith(AppendCRC([]byte{0x11, 0x83, 0x02}))
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x0A})
	start := time.Now()
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(10), timeout: 2 * time.Second})
	elapsed := time.Since(start)
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("error = %v, want ExceptionError", err)
	}
	if exc.Function != 0x03 || exc.Code != 0x02 {
		t.Fatalf("exception = function 0x%02X code 0x%02X", exc.Function, exc.Code)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("exception reply took %v, the short frame must complete early", elapsed)
	}
}

func TestTransact_ExceptionWinsOverBadCRC(t *testing.T) {
	link := newFakeLink()
	frame := AppendCRC([]byte{0x11, 0x83, 0x02})
	frame[len(frame)-1] ^= 0xFF
	link.respondWith(frame)
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second})
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("error = %v, want ExceptionError even with a mangled CRC", err)
	}
}

func TestTransact_PartialReplyIsTimeout(t *testing.T) {
	link := newFakeLink()
	link.respondWith([]byte{0x11, 0x03, 0x02}) // reply cut short mid-frame
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: 80 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestTransact_CRCMismatchIsIntegrity(t *testing.T) {
	link := newFakeLink()
	reply := AppendCRC([]byte{0x11, 0x03, 0x02, 0x01, 0x2C})
	reply[len(reply)-1] ^= 0x01 // 错误CRC
	link.respondWith(reply)
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
}

func TestTransact_DrainsStaleInput(t *testing.T) {
	link := newFakeLink()
	link.feed(AppendCRC([]byte{0x11, 0x03, 0x02, 0xDE, 0xAD})) // leftover of a broken exchange
	reply := AppendCRC([]byte{0x11, 0x03, 0x02, 0x01, 0x2C})
	link.respondWith(reply)
	tr := NewTransporter(link, nil)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	got, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("captured % X, want the fresh reply % X", got, reply)
	}
}

func TestTransact_DirectionPinSequence(t *testing.T) {
	link := newFakeLink()
	link.respondWith(AppendCRC([]byte{0x11, 0x03, 0x02, 0x01, 0x2C}))
	pin := &fakePin{}
	tr := NewTransporter(link, pin)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	if _, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second}); err != nil {
		t.Fatalf("Transact: %v", err)
	}
	// Construction parks the bus in receive, then the transaction drives
	// and releases it.
	want := []bool{false, true, false}
	got, _ := pin.recorded()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestTransact_GuardBeforeReceiveFlip(t *testing.T) {
	link := newFakeLink()
	link.respondWith(AppendCRC([]byte{0x11, 0x03, 0x02, 0x01, 0x2C}))
	pin := &fakePin{}
	tr := NewTransporter(link, pin)
	request := AppendCRC([]byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x01})
	if _, err := tr.Transact(request, responseSpec{slaveID: 0x11, minLen: readResponseLen(1), timeout: time.Second}); err != nil {
		t.Fatalf("Transact: %v", err)
	}
	_, times := pin.recorded()
	if len(times) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(times))
	}
	if gap := times[2].Sub(link.lastWriteTime()); gap < transmitGuardTime {
		t.Fatalf("receive flip came %v after the write, want at least %v", gap, transmitGuardTime)
	}
}

func TestTransporter_Close(t *testing.T) {
	link := newFakeLink()
	tr := NewTransporter(link, nil)
	if !tr.IsConnected() {
		t.Fatal("expected a live link")
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.IsConnected() {
		t.Fatal("expected a closed link")
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, err := tr.Transact([]byte{0x01, 0x03, 0x00, 0x00}, responseSpec{slaveID: 0x01, minLen: 4, timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("transactions on a closed transporter must fail")
	}
}

func TestBusDirector_PinHandling(t *testing.T) {
	d := NewBusDirector(nil)
	if err := d.EnableTransmit(); err != nil {
		t.Fatalf("nil pin transmit: %v", err)
	}
	if err := d.EnableReceive(); err != nil {
		t.Fatalf("nil pin receive: %v", err)
	}

	var calls []bool
	d = NewBusDirector(DirectionPinFunc(func(transmit bool) error {
		calls = append(calls, transmit)
		return nil
	}))
	_ = d.EnableTransmit()
	_ = d.EnableReceive()
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("calls = %v, want [true false]", calls)
	}
}
