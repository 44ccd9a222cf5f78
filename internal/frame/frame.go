// Package frame reassembles Modbus RTU frames out of a raw, delimiter-free
// byte stream. See §4.2 of the design spec: the parser is resynchronising —
// CRC validity is the only framing oracle, so on any structural or CRC
// failure it shifts one byte and retries rather than waiting for silence.
package frame

import "github.com/fieldbus-sim/rtusim/internal/crc"

// Supported function codes.
const (
	FuncReadHolding    byte = 0x03
	FuncReadInput      byte = 0x04
	FuncWriteSingle    byte = 0x06
	FuncWriteMultiple  byte = 0x10
	exceptionBit       byte = 0x80
	maxBufferSize           = 4096
)

// Frame is one reassembled, CRC-verified RTU frame with the trailing CRC
// bytes already stripped off Body.
type Frame struct {
	UnitID   byte
	FuncCode byte
	Body     []byte // unit id, function code and payload — no CRC
}

// Parser holds the rolling input buffer across Feed calls.
type Parser struct {
	buf []byte
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends data to the rolling buffer and extracts every complete,
// CRC-valid frame it can find. overflow is true when the buffer had to be
// flushed because it grew past maxBufferSize without yielding a frame; the
// caller is expected to surface that as a log event.
func (p *Parser) Feed(data []byte) (frames []Frame, overflow bool) {
	p.buf = append(p.buf, data...)

	cursor := 0
loop:
	for {
		remaining := len(p.buf) - cursor
		if remaining < 2 {
			break
		}

		fc := p.buf[cursor+1]
		length, ok := frameLength(p.buf, cursor, fc)
		if !ok {
			if length == needMoreData {
				break loop
			}
			// unsupported function code: treated as noise, shift and retry.
			cursor++
			continue
		}
		if remaining < length {
			break loop
		}

		candidate := p.buf[cursor : cursor+length]
		if crc.Verify(candidate) {
			frames = append(frames, Frame{
				UnitID:   candidate[0],
				FuncCode: candidate[1],
				Body:     append([]byte(nil), candidate[:length-2]...),
			})
			cursor += length
			continue
		}
		cursor++
	}

	scanned := len(p.buf)
	p.buf = append([]byte(nil), p.buf[cursor:]...)
	if len(frames) == 0 && scanned > maxBufferSize {
		p.buf = nil
		overflow = true
	}
	return frames, overflow
}

// Reset discards any buffered, not-yet-framed bytes. Used when the
// transport is closed so a half-read frame never leaks into the next
// connection's stream.
func (p *Parser) Reset() {
	p.buf = nil
}

const needMoreData = -1

// frameLength returns the total on-wire length (including CRC) of the
// frame starting at cursor for the given function code, and whether fc is
// one this simulator understands at all. A length of needMoreData with
// ok == false means "wait for more bytes", distinct from "unsupported fc".
func frameLength(buf []byte, cursor int, fc byte) (length int, ok bool) {
	switch fc {
	case FuncReadHolding, FuncReadInput, FuncWriteSingle:
		return 8, true
	case FuncWriteMultiple:
		if len(buf)-cursor < 7 {
			return needMoreData, false
		}
		byteCount := int(buf[cursor+6])
		return 9 + byteCount, true
	default:
		return 0, false
	}
}

// IsException reports whether fc has the Modbus exception bit set.
func IsException(fc byte) bool {
	return fc&exceptionBit != 0
}

// ExceptionCode sets the exception bit on fc.
func ExceptionCode(fc byte) byte {
	return fc | exceptionBit
}
