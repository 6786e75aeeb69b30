// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package value

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parser classifies one completed response line. The line includes its
// terminator when it had one.
type Parser interface {
	Parse(line []byte) (Value, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(line []byte) (Value, error)

// Parse calls f(line).
func (f ParserFunc) Parse(line []byte) (Value, error) {
	return f(line)
}

// ErrUnterminatedString is returned for a line that opens a quoted
// string without closing it.
var ErrUnterminatedString = errors.New("unterminated quoted string")

// Default is the reference classifier.
var Default Parser = ParserFunc(parseDefault)

func parseDefault(line []byte) (Value, error) {
	raw := append([]byte(nil), line...)
	text := string(bytes.TrimRight(line, "\r\n"))
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, `"`) {
		if len(trimmed) < 2 || !strings.HasSuffix(trimmed, `"`) {
			return Value{}, fmt.Errorf("parsing %q: %w", trimmed, ErrUnterminatedString)
		}
		inner := trimmed[1 : len(trimmed)-1]
		result := Text(strings.ReplaceAll(inner, `""`, `"`))
		result.Raw = raw
		return result, nil
	}

	if number, err := strconv.ParseFloat(trimmed, 64); err == nil {
		result := Number(number)
		result.Raw = raw
		return result, nil
	}

	if strings.Contains(trimmed, ",") {
		fields := strings.Split(trimmed, ",")
		list := make([]float64, 0, len(fields))
		for _, field := range fields {
			number, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				list = nil
				break
			}
			list = append(list, number)
		}
		if list != nil {
			return Value{Kind: KindList, List: list, Raw: raw}, nil
		}
	}

	result := Text(text)
	result.Raw = raw
	return result, nil
}
