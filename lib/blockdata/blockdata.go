// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockdata

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Marker is the byte that introduces a block.
const Marker = '#'

// maxWidth is the largest length-field width a single digit can express.
const maxWidth = 9

// initialCapacity bounds the payload buffer reserved from a declared
// length. Larger payloads grow as bytes arrive.
const initialCapacity = 64 << 10

// ErrMalformed is returned when the header of a block does not follow
// the arbitrary block grammar.
var ErrMalformed = errors.New("malformed block header")

// Header returns the definite-length header for a payload of length
// bytes: the marker, the width digit, and the length digits.
func Header(length int) []byte {
	digits := strconv.Itoa(length)
	header := make([]byte, 0, 2+len(digits))
	header = append(header, Marker, byte('0'+len(digits)))
	return append(header, digits...)
}

// Encode returns payload wrapped in a definite-length block.
func Encode(payload []byte) []byte {
	header := Header(len(payload))
	block := make([]byte, 0, len(header)+len(payload))
	block = append(block, header...)
	return append(block, payload...)
}

type phase int

const (
	phaseMarker phase = iota
	phaseWidth
	phaseLength
	phasePayload
	phaseIndefinite
	phaseDone
)

// Decoder reassembles one block from a sequence of chunks. The zero
// value is ready to use.
type Decoder struct {
	// MaxLength, when positive, rejects blocks whose declared length,
	// or whose indefinite payload, exceeds it as malformed.
	MaxLength int

	phase     phase
	width     int
	digits    []byte
	expected  int
	payload   []byte
	surplus   []byte
	malformed error
}

// Write feeds the next chunk of the stream. Once the block is complete
// any further bytes, including the remainder of this chunk, accumulate
// as surplus. A malformed header returns an error wrapping
// [ErrMalformed], and every later Write returns the same error.
func (d *Decoder) Write(chunk []byte) (int, error) {
	if d.malformed != nil {
		return 0, d.malformed
	}
	consumed := len(chunk)
	for len(chunk) > 0 {
		switch d.phase {
		case phaseMarker:
			if chunk[0] != Marker {
				return d.fail("expected %q, got %q", Marker, chunk[0])
			}
			d.phase = phaseWidth
			chunk = chunk[1:]

		case phaseWidth:
			width := chunk[0]
			if width < '0' || width > '0'+maxWidth {
				return d.fail("width %q is not a digit", width)
			}
			chunk = chunk[1:]
			d.width = int(width - '0')
			if d.width == 0 {
				d.expected = -1
				d.phase = phaseIndefinite
			} else {
				d.phase = phaseLength
			}

		case phaseLength:
			needed := d.width - len(d.digits)
			take := min(needed, len(chunk))
			for _, digit := range chunk[:take] {
				if digit < '0' || digit > '9' {
					return d.fail("length digit %q is not a digit", digit)
				}
			}
			d.digits = append(d.digits, chunk[:take]...)
			chunk = chunk[take:]
			if len(d.digits) == d.width {
				length, err := strconv.Atoi(string(d.digits))
				if err != nil {
					return d.fail("length %q: %v", d.digits, err)
				}
				if d.MaxLength > 0 && length > d.MaxLength {
					return d.fail("length %d exceeds limit %d", length, d.MaxLength)
				}
				d.expected = length
				d.payload = make([]byte, 0, min(length, initialCapacity))
				d.phase = phasePayload
				if length == 0 {
					d.phase = phaseDone
				}
			}

		case phasePayload:
			take := min(d.expected-len(d.payload), len(chunk))
			d.payload = append(d.payload, chunk[:take]...)
			chunk = chunk[take:]
			if len(d.payload) == d.expected {
				d.phase = phaseDone
			}

		case phaseIndefinite:
			end := bytes.IndexByte(chunk, '\n')
			length := end
			if end < 0 {
				length = len(chunk)
			}
			if d.MaxLength > 0 && len(d.payload)+length > d.MaxLength {
				return d.fail("indefinite block exceeds limit %d", d.MaxLength)
			}
			if end < 0 {
				d.payload = append(d.payload, chunk...)
				chunk = nil
				break
			}
			d.payload = append(d.payload, chunk[:end]...)
			chunk = chunk[end+1:]
			d.phase = phaseDone

		case phaseDone:
			d.surplus = append(d.surplus, chunk...)
			chunk = nil
		}
	}
	return consumed, nil
}

func (d *Decoder) fail(format string, args ...any) (int, error) {
	d.malformed = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	return 0, d.malformed
}

// Done reports whether the whole payload has arrived.
func (d *Decoder) Done() bool {
	return d.phase == phaseDone
}

// Expected returns the declared payload length, or -1 while it is not
// yet known or for an indefinite-length block.
func (d *Decoder) Expected() int {
	if d.phase == phasePayload || d.phase == phaseDone && d.width > 0 {
		return d.expected
	}
	return -1
}

// Received returns the number of payload bytes decoded so far.
func (d *Decoder) Received() int {
	return len(d.payload)
}

// Payload returns the payload decoded so far. It is complete once Done
// reports true.
func (d *Decoder) Payload() []byte {
	return d.payload
}

// Surplus returns the bytes that followed the block, or nil.
func (d *Decoder) Surplus() []byte {
	return d.surplus
}
