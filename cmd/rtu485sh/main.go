package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hootrhino/rtu485"
)

// config is the TOML view of the serial line and session defaults.
type config struct {
	Device        string `toml:"device"`
	BaudRate      int    `toml:"baud_rate"`
	DataBits      int    `toml:"data_bits"`
	StopBits      int    `toml:"stop_bits"`
	Parity        string `toml:"parity"`
	ReadTimeoutMs int    `toml:"read_timeout_ms"`
	ByteOrder     string `toml:"byte_order"` // AB or BA
	LogLevel      string `toml:"log_level"`  // debug, info, warning, error, none
}

func defaultConfig() config {
	return config{
		BaudRate:      9600,
		DataBits:      8,
		StopBits:      1,
		Parity:        "N",
		ReadTimeoutMs: 100,
		ByteOrder:     "AB",
		LogLevel:      "none",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch strings.ToUpper(c.ByteOrder) {
	case "AB", "BA":
	default:
		return fmt.Errorf("byte_order must be AB or BA, got %q", c.ByteOrder)
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("parity must be N, E or O, got %q", c.Parity)
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "TOML config file")
	device := flag.String("device", "", "serial device, overrides the config file")
	baud := flag.Int("baud", 0, "baud rate, overrides the config file")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baud > 0 {
		cfg.BaudRate = *baud
	}
	if cfg.Device == "" {
		log.Fatal("no serial device: pass -device or set device in the config file")
	}

	level, err := rtu485.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger := rtu485.NewSimpleLogger(os.Stderr, level, "rtu485sh")

	port, err := rtu485.OpenSerial(rtu485.SerialConfig{
		Device:   cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	})
	if err != nil {
		log.Fatal(err)
	}

	client := rtu485.NewClient(port, rtu485.ClientConfig{
		ReadTimeout: time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		Logger:      logger,
	})
	defer client.Close()

	s := &shell{
		client: client,
		logger: logger,
		order:  rtu485.ByteOrder(strings.ToUpper(cfg.ByteOrder)),
	}
	if err := s.run(); err != nil {
		log.Fatal(err)
	}
}
