// Package config loads the pantilt server settings.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/dispatch"
	"github.com/mastercactapus/pantilt/kinematics"
	"github.com/mastercactapus/pantilt/machine"
)

// Duration is a time.Duration written as a string ("5s", "100ms").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Device      DeviceConfig      `toml:"device"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	Calibration CalibrationConfig `toml:"calibration"`
	Kinematics  KinematicsConfig  `toml:"kinematics"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

type DeviceConfig struct {
	Port        string   `toml:"port"`
	BaudRate    int      `toml:"baud_rate"`
	ReadTimeout Duration `toml:"read_timeout"`

	// SPJSURL, if set, reaches the port through a Serial Port JSON Server.
	SPJSURL string `toml:"spjs_url"`
}

type DispatchConfig struct {
	BufferCapacity int      `toml:"buffer_capacity"`
	BatchSize      int      `toml:"batch_size"`
	AckTimeout     Duration `toml:"ack_timeout"`
	ReadyTimeout   Duration `toml:"ready_timeout"`
}

type CalibrationConfig struct {
	Timeout Duration `toml:"timeout"`
}

type KinematicsConfig struct {
	Precision int     `toml:"precision"`
	MaxRepeat int     `toml:"max_repeat"`
	MaxAngle  float64 `toml:"max_angle"`

	// Limit is the largest joint angle the device can reach, in degrees.
	// Zero disables the check.
	Limit float64 `toml:"limit"`
}

type ServerConfig struct {
	Addr       string `toml:"addr"`
	DataDir    string `toml:"data_dir"`
	QueueDepth int    `toml:"queue_depth"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() Config {
	d := dispatch.DefaultConfig()
	return Config{
		Device: DeviceConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    9600,
			ReadTimeout: Duration(100 * time.Millisecond),
		},
		Dispatch: DispatchConfig{
			BufferCapacity: d.Capacity,
			BatchSize:      d.BatchSize,
			AckTimeout:     Duration(d.AckTimeout),
			ReadyTimeout:   Duration(d.ReadyTimeout),
		},
		Calibration: CalibrationConfig{
			Timeout: Duration(30 * time.Second),
		},
		Kinematics: KinematicsConfig{
			Precision: kinematics.DefaultPrecision,
			MaxRepeat: 50,
			MaxAngle:  20,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			DataDir:    "./data",
			QueueDepth: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load will read the TOML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Device.BaudRate <= 0:
		return fmt.Errorf("device.baud_rate must be positive: %d", cfg.Device.BaudRate)
	case cfg.Device.Port == "":
		return fmt.Errorf("device.port is required")
	case cfg.Dispatch.BufferCapacity < 1:
		return fmt.Errorf("dispatch.buffer_capacity must be at least 1: %d", cfg.Dispatch.BufferCapacity)
	case cfg.Dispatch.BatchSize < 1:
		return fmt.Errorf("dispatch.batch_size must be at least 1: %d", cfg.Dispatch.BatchSize)
	case cfg.Dispatch.BatchSize > cfg.Dispatch.BufferCapacity:
		return fmt.Errorf("dispatch.batch_size (%d) exceeds buffer_capacity (%d)", cfg.Dispatch.BatchSize, cfg.Dispatch.BufferCapacity)
	case cfg.Dispatch.AckTimeout <= 0:
		return fmt.Errorf("dispatch.ack_timeout must be positive")
	case cfg.Dispatch.ReadyTimeout <= 0:
		return fmt.Errorf("dispatch.ready_timeout must be positive")
	case cfg.Calibration.Timeout <= 0:
		return fmt.Errorf("calibration.timeout must be positive")
	case cfg.Kinematics.Precision < 0 || cfg.Kinematics.Precision > 6:
		return fmt.Errorf("kinematics.precision out of range (0-6): %d", cfg.Kinematics.Precision)
	case cfg.Kinematics.MaxRepeat < 1:
		return fmt.Errorf("kinematics.max_repeat must be at least 1: %d", cfg.Kinematics.MaxRepeat)
	case cfg.Kinematics.MaxAngle <= 0 || cfg.Kinematics.MaxAngle >= 90:
		return fmt.Errorf("kinematics.max_angle out of range (0-90): %g", cfg.Kinematics.MaxAngle)
	case cfg.Kinematics.Limit < 0 || cfg.Kinematics.Limit > 90:
		return fmt.Errorf("kinematics.limit out of range (0-90): %g", cfg.Kinematics.Limit)
	case cfg.Server.QueueDepth < 1:
		return fmt.Errorf("server.queue_depth must be at least 1: %d", cfg.Server.QueueDepth)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json: %q", cfg.Log.Format)
	}
	return nil
}

// DispatchConfig returns the flow control settings.
func (cfg Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Capacity:     cfg.Dispatch.BufferCapacity,
		BatchSize:    cfg.Dispatch.BatchSize,
		AckTimeout:   cfg.Dispatch.AckTimeout.Std(),
		ReadyTimeout: cfg.Dispatch.ReadyTimeout.Std(),
	}
}

// MachineConfig returns the machine settings for a device reached through o.
func (cfg Config) MachineConfig(o device.Opener, r machine.Reporter) machine.Config {
	return machine.Config{
		Opener:             o,
		Dispatch:           cfg.DispatchConfig(),
		CalibrationTimeout: cfg.Calibration.Timeout.Std(),
		Precision:          cfg.Kinematics.Precision,
		Limit:              cfg.Kinematics.Limit,
		QueueDepth:         cfg.Server.QueueDepth,
		Reporter:           r,
	}
}
