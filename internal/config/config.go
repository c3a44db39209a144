package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	LogDir   string

	SerialPort     string
	SerialBaud     int
	ConnectTimeout time.Duration

	SensorAddresses    []uint16
	SensorPollInterval time.Duration
	StatusInterval     time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	logDir := strings.TrimSpace(os.Getenv("LOG_DIR"))

	serialPort := strings.TrimSpace(os.Getenv("SERIAL_PORT"))
	if serialPort == "" {
		serialPort = "/dev/ttyUSB0"
	}

	serialBaudStr := strings.TrimSpace(os.Getenv("SERIAL_BAUD"))
	if serialBaudStr == "" {
		serialBaudStr = "115200"
	}
	serialBaud, err := strconv.Atoi(serialBaudStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SERIAL_BAUD %q: %w", serialBaudStr, err)
	}
	if serialBaud <= 0 {
		return Config{}, fmt.Errorf("SERIAL_BAUD must be positive, got %d", serialBaud)
	}

	connectTimeoutStr := strings.TrimSpace(os.Getenv("CONNECT_TIMEOUT"))
	if connectTimeoutStr == "" {
		connectTimeoutStr = "10s"
	}
	connectTimeout, err := time.ParseDuration(connectTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONNECT_TIMEOUT %q: %w", connectTimeoutStr, err)
	}
	if connectTimeout <= 0 {
		return Config{}, fmt.Errorf("CONNECT_TIMEOUT must be positive, got %v", connectTimeout)
	}

	addressesStr := strings.TrimSpace(os.Getenv("BME280_ADDRESSES"))
	if addressesStr == "" {
		addressesStr = "0x76,0x77"
	}
	addresses, err := parseAddresses(addressesStr)
	if err != nil {
		return Config{}, err
	}

	sensorPollIntervalStr := strings.TrimSpace(os.Getenv("SENSOR_POLL_INTERVAL"))
	if sensorPollIntervalStr == "" {
		sensorPollIntervalStr = "10s"
	}
	sensorPollInterval, err := time.ParseDuration(sensorPollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_POLL_INTERVAL %q: %w", sensorPollIntervalStr, err)
	}
	if sensorPollInterval <= 0 {
		return Config{}, fmt.Errorf("SENSOR_POLL_INTERVAL must be positive, got %v", sensorPollInterval)
	}

	statusIntervalStr := strings.TrimSpace(os.Getenv("STATUS_INTERVAL"))
	if statusIntervalStr == "" {
		statusIntervalStr = "30s"
	}
	statusInterval, err := time.ParseDuration(statusIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid STATUS_INTERVAL %q: %w", statusIntervalStr, err)
	}
	if statusInterval <= 0 {
		return Config{}, fmt.Errorf("STATUS_INTERVAL must be positive, got %v", statusInterval)
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		LogDir:             logDir,
		SerialPort:         serialPort,
		SerialBaud:         serialBaud,
		ConnectTimeout:     connectTimeout,
		SensorAddresses:    addresses,
		SensorPollInterval: sensorPollInterval,
		StatusInterval:     statusInterval,
	}, nil
}

// parseAddresses parses a comma-separated list of I2C addresses, e.g. "0x76,0x77".
func parseAddresses(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	addresses := make([]uint16, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid BME280_ADDRESSES entry %q: %w", p, err)
		}
		if v == 0 || v > 0x7F {
			return nil, fmt.Errorf("BME280_ADDRESSES entry %q out of 7-bit range", p)
		}
		addresses = append(addresses, uint16(v))
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("BME280_ADDRESSES %q contains no addresses", s)
	}
	return addresses, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
