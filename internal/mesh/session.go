package mesh

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Command codes understood by the companion firmware.
const (
	cmdDeviceQuery      = 0x16
	cmdGetBattery       = 0x14
	cmdAutoMessageFetch = 0x0A
)

const eventQueueSize = 32

// Session is the connection to the companion radio: it owns the serial
// transport, decodes inbound frames, and dispatches them to subscribers.
type Session struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger

	subMu sync.RWMutex
	subs  map[EventKind][]func(Event)

	writeMu sync.Mutex

	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial opens the serial device and starts a session on it. An open failure
// (missing device node, permissions) is returned to the caller; there is no
// retry, those faults need operator action. readTimeout bounds each blocking
// read so a wedged port cannot stall the read loop indefinitely.
func Dial(port string, baud int, readTimeout time.Duration, logger *slog.Logger) (*Session, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	if readTimeout > 0 {
		if terr := p.SetReadTimeout(readTimeout); terr != nil {
			p.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", port, terr)
		}
	}
	return NewSession(p, logger), nil
}

// NewSession starts a session over an already-open transport. The read and
// dispatch loops run until Close.
func NewSession(conn io.ReadWriteCloser, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		conn:   conn,
		logger: logger,
		subs:   make(map[EventKind][]func(Event)),
		events: make(chan Event, eventQueueSize),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.dispatchLoop()
	return s
}

// Subscribe registers fn for every inbound event of the given kind.
// Callbacks run on the session's dispatch goroutine and must return quickly.
func (s *Session) Subscribe(kind EventKind, fn func(Event)) {
	s.subMu.Lock()
	s.subs[kind] = append(s.subs[kind], fn)
	s.subMu.Unlock()
}

// SendDeviceQuery asks the radio for its device information. The answer
// arrives later as a DEVICE_INFO event.
func (s *Session) SendDeviceQuery() error {
	return s.send(cmdDeviceQuery, nil)
}

// RequestBattery asks for the current battery level (answered as a BATTERY event).
func (s *Session) RequestBattery() error {
	return s.send(cmdGetBattery, nil)
}

// StartAutoMessageFetch tells the radio to push queued messages as they
// arrive instead of waiting to be polled.
func (s *Session) StartAutoMessageFetch() error {
	return s.send(cmdAutoMessageFetch, nil)
}

func (s *Session) send(code byte, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(encodeFrame(code, payload)); err != nil {
		return fmt.Errorf("write command 0x%02X: %w", code, err)
	}
	return nil
}

// Close stops both loops and closes the transport. Safe to call more than once.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("serial close", "error", err)
		}
	})
	s.wg.Wait()
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	sc := &scanner{}
	buf := make([]byte, 256)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Debug("serial read", "error", err)
		}
		if n == 0 {
			if err != nil {
				// Closed or wedged port: back off so we don't spin.
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		for _, b := range buf[:n] {
			f, ferr := sc.feed(b)
			if ferr != nil {
				s.logger.Warn("discarding frame", "error", ferr)
				continue
			}
			if f == nil {
				continue
			}
			ev := eventFromFrame(f)
			select {
			case s.events <- ev:
			case <-s.stopCh:
				return
			}
		}
	}
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			s.subMu.RLock()
			fns := s.subs[ev.Kind]
			s.subMu.RUnlock()
			if len(fns) == 0 {
				s.logger.Debug("event with no subscriber", "kind", ev.Kind.String(), "code", ev.Code)
				continue
			}
			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}
