package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/hootrhino/rtu485"
)

// shell is an interactive session against one RS485 bus.
type shell struct {
	client *rtu485.Client
	logger *rtu485.SimpleLogger
	order  rtu485.ByteOrder
	rl     *readline.Instance
}

func (s *shell) run() error {
	rl, err := readline.New("rtu485> ")
	if err != nil {
		return err
	}
	defer rl.Close()
	s.rl = rl

	fmt.Println("rtu485 shell, 'help' lists commands")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if s.dispatch(strings.Fields(line)) {
			return nil
		}
	}
}

// dispatch runs one command line. It returns true when the session ends.
func (s *shell) dispatch(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	var err error
	switch fields[0] {
	case "quit", "exit", "q":
		return true
	case "help", "h":
		s.printHelp()
	case "read":
		err = s.cmdRead(fields[1:])
	case "write":
		err = s.cmdWrite(fields[1:])
	case "writem":
		err = s.cmdWriteMultiple(fields[1:])
	case "reset":
		err = s.cmdReset(fields[1:])
	case "raw":
		err = s.cmdRaw(fields[1:])
	case "scan":
		err = s.cmdScan(fields[1:])
	case "watch":
		err = s.cmdWatch(fields[1:])
	case "order":
		err = s.cmdOrder(fields[1:])
	case "timeout":
		err = s.cmdTimeout(fields[1:])
	case "log":
		err = s.cmdLog(fields[1:])
	default:
		err = fmt.Errorf("unknown command %q, try 'help'", fields[0])
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Print(`commands:
  read <slave> <h|i> <addr> <count>   read holding/input registers
  write <slave> <addr> <value>        write one register
  writem <slave> <addr> <v1,v2,...>   write a register block
  reset <slave> [phase]               reset energy accumulator
  raw <hex bytes...>                  send a frame (CRC appended) and dump the reply
  scan [h|i] [from] [to]              probe the bus for live slaves
  watch <map.csv> [interval_ms]       poll a CSV register map until enter
  order <ab|ba>                       set the register byte order
  timeout <ms>                        set the read timeout
  log <level>                         set log level (debug/info/warning/error/none)
  quit                                leave the shell
numbers accept decimal or 0x-prefixed hex
`)
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

func parseWord(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func (s *shell) cmdRead(args []string) error {
	if len(args) < 4 {
		return errors.New("usage: read <slave> <h|i> <addr> <count>")
	}
	slaveID, err := parseByte(args[0])
	if err != nil {
		return err
	}
	address, err := parseWord(args[2])
	if err != nil {
		return err
	}
	count, err := parseWord(args[3])
	if err != nil {
		return err
	}
	var values []uint16
	switch args[1] {
	case "h":
		values, err = s.client.ReadHoldingRegisters(slaveID, address, count, s.order)
	case "i":
		values, err = s.client.ReadInputRegisters(slaveID, address, count, s.order)
	default:
		return errors.New("register space must be h or i")
	}
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("  0x%04X = %5d (0x%04X)\n", address+uint16(i), v, v)
	}
	return nil
}

func (s *shell) cmdWrite(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: write <slave> <addr> <value>")
	}
	slaveID, err := parseByte(args[0])
	if err != nil {
		return err
	}
	address, err := parseWord(args[1])
	if err != nil {
		return err
	}
	value, err := parseWord(args[2])
	if err != nil {
		return err
	}
	if err := s.client.WriteSingleRegister(slaveID, address, value, s.order); err != nil {
		return err
	}
	fmt.Println("  ok")
	return nil
}

func (s *shell) cmdWriteMultiple(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: writem <slave> <addr> <v1,v2,...>")
	}
	slaveID, err := parseByte(args[0])
	if err != nil {
		return err
	}
	address, err := parseWord(args[1])
	if err != nil {
		return err
	}
	parts := strings.Split(args[2], ",")
	values := make([]uint16, 0, len(parts))
	for _, part := range parts {
		v, err := parseWord(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	if err := s.client.WriteMultipleRegisters(slaveID, address, values, s.order); err != nil {
		return err
	}
	fmt.Printf("  ok, %d registers written\n", len(values))
	return nil
}

func (s *shell) cmdReset(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: reset <slave> [phase]")
	}
	slaveID, err := parseByte(args[0])
	if err != nil {
		return err
	}
	if len(args) >= 2 {
		phase, err := parseByte(args[1])
		if err != nil {
			return err
		}
		if err := s.client.ResetEnergyPhase(slaveID, phase); err != nil {
			return err
		}
		fmt.Printf("  ok, phase %d energy cleared\n", phase)
		return nil
	}
	if err := s.client.ResetEnergy(slaveID); err != nil {
		return err
	}
	fmt.Println("  ok, energy cleared")
	return nil
}

func (s *shell) cmdRaw(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: raw <hex bytes...>, e.g. raw F8 03 00 00 00 01")
	}
	frame := make([]byte, 0, len(args)+2)
	for _, tok := range args {
		b, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tok), "0x"), 16, 8)
		if err != nil {
			return fmt.Errorf("bad hex byte %q: %w", tok, err)
		}
		frame = append(frame, byte(b))
	}
	frame = rtu485.AppendCRC(frame)
	fmt.Printf("  tx % X\n", frame)
	reply, err := s.client.ExchangeRaw(frame, 4)
	if err != nil {
		return err
	}
	crcNote := "crc ok"
	if !rtu485.VerifyCRC(reply) {
		crcNote = "crc BAD"
	}
	fmt.Printf("  rx % X (%s)\n", reply, crcNote)
	return nil
}

func (s *shell) cmdScan(args []string) error {
	space := "h"
	from, to := uint8(1), uint8(rtu485.MaxRoutableAddress)
	if len(args) >= 1 {
		if args[0] != "h" && args[0] != "i" {
			return errors.New("usage: scan [h|i] [from] [to]")
		}
		space = args[0]
	}
	var err error
	if len(args) >= 2 {
		if from, err = parseByte(args[1]); err != nil {
			return err
		}
	}
	if len(args) >= 3 {
		if to, err = parseByte(args[2]); err != nil {
			return err
		}
	}
	if from == 0 || to < from || to > rtu485.MaxRoutableAddress {
		return errors.New("scan range must be within 1..247 and ordered")
	}

	// Probe with a short deadline so absent slaves do not stall the sweep.
	saved := s.client.ReadTimeout()
	s.client.SetReadTimeout(50 * time.Millisecond)
	defer s.client.SetReadTimeout(saved)

	found := 0
	for id := from; ; id++ {
		var err error
		if space == "h" {
			_, err = s.client.ReadHoldingRegisters(id, 0, 1, s.order)
		} else {
			_, err = s.client.ReadInputRegisters(id, 0, 1, s.order)
		}
		switch {
		case err == nil:
			fmt.Printf("  slave 0x%02X (%d): responding\n", id, id)
			found++
		case errors.Is(err, rtu485.ErrTimeout):
			// silent, nobody home
		default:
			// Exceptions, framing and CRC noise all mean something answered.
			fmt.Printf("  slave 0x%02X (%d): %v\n", id, id, err)
			found++
		}
		if id == to {
			break
		}
	}
	fmt.Printf("  scan done, %d live\n", found)
	return nil
}

func (s *shell) cmdWatch(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: watch <map.csv> [interval_ms]")
	}
	interval := time.Second
	if len(args) >= 2 {
		ms, err := strconv.Atoi(args[1])
		if err != nil || ms <= 0 {
			return errors.New("interval must be a positive number of milliseconds")
		}
		interval = time.Duration(ms) * time.Millisecond
	}
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()
	registers, err := rtu485.NewCSVRegisterParser().ParseCSV(file)
	if err != nil {
		return err
	}

	manager := rtu485.NewRegisterManager(s.client)
	if err := manager.Load(registers); err != nil {
		return err
	}
	manager.SetOnData(func(group []rtu485.DeviceRegister) {
		for _, r := range group {
			if r.Ok() {
				fmt.Printf("  %-20s %12.4f\n", r.Tag, r.Float64())
			} else {
				fmt.Printf("  %-20s failed: %s\n", r.Tag, r.Status)
			}
		}
	})

	poller := rtu485.NewPoller(interval)
	poller.AddManager(manager)
	poller.Start()
	fmt.Printf("watching %d registers every %v, press enter to stop\n", len(registers), interval)
	_, _ = s.rl.Readline()
	poller.Stop()
	return nil
}

func (s *shell) cmdOrder(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: order <ab|ba>")
	}
	switch strings.ToUpper(args[0]) {
	case "AB":
		s.order = rtu485.BigEndian
	case "BA":
		s.order = rtu485.LittleEndian
	default:
		return errors.New("order must be ab or ba")
	}
	fmt.Println("  register byte order:", string(s.order))
	return nil
}

func (s *shell) cmdTimeout(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: timeout <ms>")
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil || ms <= 0 {
		return errors.New("timeout must be a positive number of milliseconds")
	}
	s.client.SetReadTimeout(time.Duration(ms) * time.Millisecond)
	fmt.Println("  read timeout:", s.client.ReadTimeout())
	return nil
}

func (s *shell) cmdLog(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: log <debug|info|warning|error|none>")
	}
	if err := s.logger.SetLevelFromString(args[0]); err != nil {
		return err
	}
	fmt.Println("  log level:", s.logger.Level())
	return nil
}
