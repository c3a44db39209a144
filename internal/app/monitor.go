package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/config"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/mesh"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/sensor"
)

// stabilizeDelay gives the radio a moment after connect before the first request.
var stabilizeDelay = 2 * time.Second

const readTimeout = 5 * time.Second

// Session is what the monitor needs from the radio connection.
type Session interface {
	Subscribe(kind mesh.EventKind, fn func(mesh.Event))
	SendDeviceQuery() error
	RequestBattery() error
	StartAutoMessageFetch() error
	Close()
}

// Monitor prints radio events as they arrive and polls the environmental
// sensor on a fixed interval. A missing sensor is a degraded mode, not an
// error: event monitoring carries on.
type Monitor struct {
	cfg    config.Config
	sess   Session
	sensor sensor.Reader // nil when absent for the life of the process
	out    io.Writer
	logger *slog.Logger

	printMu   sync.Mutex
	events    atomic.Uint64
	closeOnce sync.Once
}

func NewMonitor(cfg config.Config, sess Session, rdr sensor.Reader, out io.Writer, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		sess:   sess,
		sensor: rdr,
		out:    out,
		logger: logger,
	}
}

// Run wires everything together: connect, subscribe, probe the sensor, then
// monitor until ctx is canceled. The serial open failure is the only error
// that propagates out of startup.
func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("connecting to radio", "port", cfg.SerialPort, "baud", cfg.SerialBaud)

	sess, err := mesh.Dial(cfg.SerialPort, cfg.SerialBaud, cfg.ConnectTimeout, logger)
	if err != nil {
		return fmt.Errorf("connect to radio: %w", err)
	}

	var rdr sensor.Reader
	dev, serr := sensor.Probe(logger, cfg.SensorAddresses)
	if serr != nil {
		logger.Warn("environmental sensor unavailable, continuing without it", "error", serr)
	} else {
		defer func() {
			if cerr := dev.Close(); cerr != nil {
				logger.Debug("sensor close", "error", cerr)
			}
		}()
		rdr = dev
	}

	m := NewMonitor(cfg, sess, rdr, os.Stdout, logger)
	defer m.Shutdown()
	return m.Run(ctx)
}

// Run starts monitoring and blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	for _, kind := range mesh.Kinds() {
		m.sess.Subscribe(kind, m.handleEvent)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stabilizeDelay):
	}
	m.startupRequests()

	m.logger.Info("monitoring radio events",
		"poll_interval", m.cfg.SensorPollInterval,
		"sensor", m.sensor != nil,
	)

	poll := time.NewTicker(m.cfg.SensorPollInterval)
	defer poll.Stop()
	status := time.NewTicker(m.cfg.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			m.pollSensor(ctx)
		case <-status.C:
			m.logger.Debug("monitor running", "events_received", m.events.Load())
		}
	}
}

// startupRequests issues the initial device queries. Each one is individually
// non-fatal: the answers arrive as events, and a radio that ignores a request
// still delivers everything else.
func (m *Monitor) startupRequests() {
	if err := m.sess.SendDeviceQuery(); err != nil {
		m.logger.Warn("device query failed", "error", err)
	}
	if err := m.sess.RequestBattery(); err != nil {
		m.logger.Warn("battery request failed", "error", err)
	}
	if err := m.sess.StartAutoMessageFetch(); err != nil {
		m.logger.Warn("auto message fetch request failed", "error", err)
	}
}

// handleEvent runs on the session's dispatch goroutine. It only formats and
// prints, so it returns quickly and never fails the caller.
func (m *Monitor) handleEvent(ev mesh.Event) {
	m.events.Add(1)
	m.print(formatEvent(ev))
}

// pollSensor runs one poll cycle. With no sensor it is a no-op; a read error
// is logged and does not disable future cycles.
func (m *Monitor) pollSensor(ctx context.Context) {
	if m.sensor == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	r, err := m.sensor.Read(rctx)
	if err != nil {
		m.logger.Error("sensor read failed", "error", err)
		return
	}
	m.print(formatReading(r))
}

// Shutdown closes the radio session. Idempotent.
func (m *Monitor) Shutdown() {
	m.closeOnce.Do(func() {
		m.logger.Info("closing radio session")
		m.sess.Close()
	})
}

// print keeps whole blocks together; events and poll results come from
// different goroutines.
func (m *Monitor) print(s string) {
	m.printMu.Lock()
	defer m.printMu.Unlock()
	fmt.Fprint(m.out, s)
}
