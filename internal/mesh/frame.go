package mesh

import "fmt"

// Companion-radio serial framing: two start bytes, a 16-bit big-endian payload
// length, a one-byte event/command code, then the payload. Anything between
// frames is line noise and gets skipped.
const (
	frameStart1 = 0x3E
	frameStart2 = 0x3C
	frameMTU    = 512
)

type frame struct {
	code    byte
	payload []byte
}

// encodeFrame wraps an outbound command in the serial framing.
func encodeFrame(code byte, payload []byte) []byte {
	plen := len(payload) + 1 // code byte counts toward the length
	out := make([]byte, 0, plen+4)
	out = append(out, frameStart1, frameStart2, byte(plen>>8), byte(plen))
	out = append(out, code)
	out = append(out, payload...)
	return out
}

// scanner extracts frames from an incoming byte stream one byte at a time.
// It tolerates garbage before a header and discards frames over the MTU.
type scanner struct {
	idx    int
	msgLen int
	buf    []byte
}

var errFrameTooLarge = fmt.Errorf("frame exceeds %d byte MTU", frameMTU)

// feed consumes one byte. It returns a complete frame when the byte finishes
// one, or an error when the current frame had to be discarded. On error the
// scanner has already reset itself and can keep being fed.
func (s *scanner) feed(b byte) (*frame, error) {
	switch s.idx {
	case 0:
		if b != frameStart1 {
			return nil, nil
		}
	case 1:
		if b == frameStart1 {
			// Still looking at a possible header start.
			return nil, nil
		}
		if b != frameStart2 {
			s.reset()
			return nil, nil
		}
	case 2:
		s.msgLen = int(b) << 8
	case 3:
		s.msgLen |= int(b)
		if s.msgLen > frameMTU {
			n := s.msgLen
			s.reset()
			return nil, fmt.Errorf("%w (got %d)", errFrameTooLarge, n)
		}
		if s.msgLen == 0 {
			s.reset()
			return nil, nil
		}
		s.buf = make([]byte, 0, s.msgLen)
	default:
		s.buf = append(s.buf, b)
		if len(s.buf) == s.msgLen {
			f := &frame{code: s.buf[0], payload: s.buf[1:]}
			s.reset()
			return f, nil
		}
	}
	s.idx++
	return nil, nil
}

func (s *scanner) reset() {
	s.idx = 0
	s.msgLen = 0
	s.buf = nil
}
