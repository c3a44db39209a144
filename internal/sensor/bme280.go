package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// seaLevelPressureHPa is the reference for the altitude derivation.
const seaLevelPressureHPa = 1013.25

var ErrNotFound = errors.New("bme280 not detected")

// Reading is one environmental sample. Values are already converted to the
// units the monitor prints.
type Reading struct {
	TemperatureC float64
	Humidity     float64 // %RH
	Pressure     float64 // hPa
	Altitude     float64 // meters, derived from pressure
}

func (r Reading) TemperatureF() float64 {
	return r.TemperatureC*9/5 + 32
}

// Reader reads one environmental sample per call. Each call is independent;
// a failed read says nothing about the next one.
type Reader interface {
	Read(ctx context.Context) (Reading, error)
}

// BME280 wraps the bus-attached sensor behind Reader.
type BME280 struct {
	dev  *bmxx80.Dev
	bus  i2c.BusCloser
	addr uint16
}

// Probe initializes the host I2C stack and tries each candidate address in
// order, keeping the first one that answers. When none does it returns
// ErrNotFound (wrapped), which callers treat as a permanent absence.
func Probe(logger *slog.Logger, addrs []uint16) (*BME280, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	for _, addr := range addrs {
		dev, derr := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
		if derr != nil {
			logger.Debug("no bme280 at address", "addr", fmt.Sprintf("0x%02X", addr), "error", derr)
			continue
		}
		logger.Info("bme280 detected", "addr", fmt.Sprintf("0x%02X", addr))
		return &BME280{dev: dev, bus: bus, addr: addr}, nil
	}
	if cerr := bus.Close(); cerr != nil {
		logger.Debug("i2c bus close", "error", cerr)
	}
	return nil, fmt.Errorf("%w at addresses %s", ErrNotFound, formatAddrs(addrs))
}

// Read takes a fresh sample. The driver bounds the bus transaction itself;
// ctx only short-circuits a call that is already too late.
func (b *BME280) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return fromEnv(env), nil
}

// Addr reports which candidate address answered at probe time.
func (b *BME280) Addr() uint16 { return b.addr }

func (b *BME280) Close() error {
	herr := b.dev.Halt()
	cerr := b.bus.Close()
	if herr != nil {
		return herr
	}
	return cerr
}

func fromEnv(env physic.Env) Reading {
	pressureHPa := float64(env.Pressure) / float64(100*physic.Pascal)
	return Reading{
		TemperatureC: env.Temperature.Celsius(),
		Humidity:     float64(env.Humidity) / float64(physic.PercentRH),
		Pressure:     pressureHPa,
		Altitude:     altitudeMeters(pressureHPa),
	}
}

// altitudeMeters applies the international barometric formula against the
// standard sea-level pressure.
func altitudeMeters(pressureHPa float64) float64 {
	return 44330.0 * (1.0 - math.Pow(pressureHPa/seaLevelPressureHPa, 1.0/5.255))
}

func formatAddrs(addrs []uint16) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("0x%02X", a)
	}
	return out
}
