package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/config"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/mesh"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/sensor"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *captureHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

// fakeSession records what the monitor asks of the radio connection.
type fakeSession struct {
	mu         sync.Mutex
	subscribed []mesh.EventKind
	commands   []string
	closes     int
}

func (s *fakeSession) Subscribe(kind mesh.EventKind, _ func(mesh.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, kind)
}

func (s *fakeSession) SendDeviceQuery() error {
	return s.record("device_query")
}

func (s *fakeSession) RequestBattery() error {
	return s.record("battery")
}

func (s *fakeSession) StartAutoMessageFetch() error {
	return s.record("auto_fetch")
}

func (s *fakeSession) record(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// scriptReader returns canned results in order, repeating the last one.
type scriptReader struct {
	mu     sync.Mutex
	script []func() (sensor.Reading, error)
	calls  int
	onCall map[int]func()
}

func (r *scriptReader) Read(_ context.Context) (sensor.Reading, error) {
	r.mu.Lock()
	i := r.calls
	r.calls++
	fn := r.script[len(r.script)-1]
	if i < len(r.script) {
		fn = r.script[i]
	}
	hook := r.onCall[i]
	r.mu.Unlock()
	if hook != nil {
		defer hook()
	}
	return fn()
}

func (r *scriptReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testConfig() config.Config {
	return config.Config{
		SensorPollInterval: 20 * time.Millisecond,
		StatusInterval:     time.Hour,
	}
}

func testLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{}
	return slog.New(h), h
}

func TestHandleEvent_everyKindPrintsOneBlock(t *testing.T) {
	logger, _ := testLogger()
	events := []mesh.Event{
		{Kind: mesh.EventDeviceInfo, Code: 0x01, Payload: []byte("Heltec V3 fw 1.8")},
		{Kind: mesh.EventBattery, Code: 0x02, Payload: []byte{0xA0, 0x0F}},
		{Kind: mesh.EventBattery, Code: 0x02, Payload: []byte{0x01}}, // truncated
		{Kind: mesh.EventTelemetryResponse, Code: 0x03, Payload: []byte{0x01, 0x67, 0x00, 0xE1}},
		{Kind: mesh.EventContactMessage, Code: 0x04, Payload: []byte("hello from node 7")},
		{Kind: mesh.EventChannelMessage, Code: 0x05, Payload: []byte{0xFF, 0xFE}}, // not text
		{Kind: mesh.EventNewContact, Code: 0x06, Payload: nil},
		{Kind: mesh.EventAdvertisement, Code: 0x07, Payload: []byte("node-7")},
		{Kind: mesh.EventStatusResponse, Code: 0x08, Payload: []byte("ok")},
		{Kind: mesh.EventUnknown, Code: 0x99, Payload: []byte{0xDE, 0xAD}},
	}

	for _, ev := range events {
		t.Run(ev.Kind.String(), func(t *testing.T) {
			var out bytes.Buffer
			m := NewMonitor(testConfig(), &fakeSession{}, nil, &out, logger)
			m.handleEvent(ev)
			got := out.String()
			if n := strings.Count(got, "EVENT:"); n != 1 {
				t.Errorf("printed %d event blocks; want 1:\n%s", n, got)
			}
			if !strings.Contains(got, ev.Kind.String()) {
				t.Errorf("block does not name the event kind %s:\n%s", ev.Kind, got)
			}
		})
	}
}

func TestPollSensor_absentSensorIsNoOp(t *testing.T) {
	logger, h := testLogger()
	var out bytes.Buffer
	m := NewMonitor(testConfig(), &fakeSession{}, nil, &out, logger)

	for i := 0; i < 3; i++ {
		m.pollSensor(context.Background())
	}

	if out.Len() != 0 {
		t.Errorf("absent sensor produced output:\n%s", out.String())
	}
	if n := h.count("sensor read failed"); n != 0 {
		t.Errorf("logged %d read failures with no sensor; want 0", n)
	}
}

func TestPollSensor_readErrorDoesNotDisablePolling(t *testing.T) {
	logger, h := testLogger()
	var out bytes.Buffer
	rdr := &scriptReader{script: []func() (sensor.Reading, error){
		func() (sensor.Reading, error) { return sensor.Reading{}, errors.New("remote I/O error") },
		func() (sensor.Reading, error) {
			return sensor.Reading{TemperatureC: 22.5, Humidity: 45, Pressure: 1013.2, Altitude: 50.1}, nil
		},
	}}
	m := NewMonitor(testConfig(), &fakeSession{}, rdr, &out, logger)

	m.pollSensor(context.Background())
	if out.Len() != 0 {
		t.Fatalf("failed poll produced output:\n%s", out.String())
	}
	if n := h.count("sensor read failed"); n != 1 {
		t.Fatalf("logged %d read failures; want 1", n)
	}

	// Next cycle still attempts a fresh read and succeeds.
	m.pollSensor(context.Background())
	if rdr.callCount() != 2 {
		t.Errorf("reader called %d times; want 2", rdr.callCount())
	}
	got := out.String()
	if n := strings.Count(got, "BME280 SENSOR READING"); n != 1 {
		t.Fatalf("printed %d reading blocks; want 1:\n%s", n, got)
	}
	for _, want := range []string{"22.50°C", "72.50°F", "45.00%", "1013.20 hPa", "50.10 m"} {
		if !strings.Contains(got, want) {
			t.Errorf("reading block missing %q:\n%s", want, got)
		}
	}
}

func TestRun_subscribesToAllKindsBeforeAnythingElse(t *testing.T) {
	logger, _ := testLogger()
	sess := &fakeSession{}
	m := NewMonitor(testConfig(), sess, nil, &bytes.Buffer{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run should subscribe, then bail out before any requests
	_ = m.Run(ctx)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.subscribed) != len(mesh.Kinds()) {
		t.Errorf("subscribed to %d kinds; want %d", len(sess.subscribed), len(mesh.Kinds()))
	}
	if len(sess.commands) != 0 {
		t.Errorf("commands issued after cancel: %v", sess.commands)
	}
}

func TestRun_pollsOnIntervalAndSurvivesFailures(t *testing.T) {
	old := stabilizeDelay
	stabilizeDelay = 0
	defer func() { stabilizeDelay = old }()

	logger, h := testLogger()
	var out bytes.Buffer
	sess := &fakeSession{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdr := &scriptReader{
		script: []func() (sensor.Reading, error){
			func() (sensor.Reading, error) { return sensor.Reading{}, errors.New("bus error") },
			func() (sensor.Reading, error) {
				return sensor.Reading{TemperatureC: 22.5, Humidity: 45, Pressure: 1013.2, Altitude: 50.1}, nil
			},
			func() (sensor.Reading, error) { return sensor.Reading{}, errors.New("bus error") },
		},
		onCall: map[int]func(){1: cancel},
	}

	m := NewMonitor(testConfig(), sess, rdr, &out, logger)
	err := m.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	if rdr.callCount() < 2 {
		t.Fatalf("reader called %d times; want at least 2", rdr.callCount())
	}
	if n := h.count("sensor read failed"); n < 1 {
		t.Errorf("logged %d read failures; want at least 1", n)
	}
	got := out.String()
	if n := strings.Count(got, "BME280 SENSOR READING"); n != 1 {
		t.Errorf("printed %d reading blocks; want exactly 1:\n%s", n, got)
	}

	sess.mu.Lock()
	commands := len(sess.commands)
	sess.mu.Unlock()
	if commands != 3 {
		t.Errorf("startup commands = %d; want 3 (device query, battery, auto fetch)", commands)
	}
}

func TestRun_absentSensorNeverPolls(t *testing.T) {
	old := stabilizeDelay
	stabilizeDelay = 0
	defer func() { stabilizeDelay = old }()

	logger, _ := testLogger()
	var out bytes.Buffer
	m := NewMonitor(testConfig(), &fakeSession{}, nil, &out, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx) // at least three poll ticks elapse

	if strings.Contains(out.String(), "BME280 SENSOR READING") {
		t.Errorf("absent sensor produced a reading block:\n%s", out.String())
	}
}

func TestShutdown_isIdempotent(t *testing.T) {
	logger, _ := testLogger()
	sess := &fakeSession{}
	m := NewMonitor(testConfig(), sess, nil, &bytes.Buffer{}, logger)

	m.Shutdown()
	m.Shutdown()

	if n := sess.closeCount(); n != 1 {
		t.Errorf("session closed %d times; want 1", n)
	}
}
