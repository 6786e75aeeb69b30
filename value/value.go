// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a Value.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindList   Kind = "list"
	KindBlock  Kind = "block"
	KindError  Kind = "error"
)

// Value is one delivered response. Exactly the fields matching Kind are
// meaningful. Raw is the line as received, terminator included, when
// the value came from a line.
type Value struct {
	Kind   Kind      `cbor:"kind"`
	Text   string    `cbor:"text,omitempty"`
	Number float64   `cbor:"number,omitempty"`
	List   []float64 `cbor:"list,omitempty"`
	Block  []byte    `cbor:"block,omitempty"`
	Raw    []byte    `cbor:"raw,omitempty"`
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// Block returns a binary block value.
func Block(payload []byte) Value {
	return Value{Kind: KindBlock, Block: payload}
}

// Error returns an error value carrying message, and the raw line that
// caused it if there was one.
func Error(message string, raw []byte) Value {
	return Value{Kind: KindError, Text: message, Raw: raw}
}

// IsError reports whether v is an error value.
func (v Value) IsError() bool {
	return v.Kind == KindError
}

// String renders v for display.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindList:
		parts := make([]string, len(v.List))
		for i, n := range v.List {
			parts[i] = strconv.FormatFloat(n, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	case KindBlock:
		return fmt.Sprintf("<block %d bytes>", len(v.Block))
	case KindError:
		return "error: " + v.Text
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
