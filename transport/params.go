// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Kind selects the physical medium. The set is closed: a Params value
// names exactly one of these, and [Dialer.Dial] picks the matching
// implementation once per connect.
type Kind string

const (
	KindEthernet Kind = "ethernet"
	KindSerial   Kind = "serial"
)

// DefaultBaudRate is used for serial lines that do not name a rate.
const DefaultBaudRate = 9600

// Params describes how to reach one instrument.
type Params struct {
	Kind Kind `cbor:"kind"`

	// Host and Port address an ethernet instrument (raw socket,
	// usually port 5025).
	Host string `cbor:"host,omitempty"`
	Port int    `cbor:"port,omitempty"`

	// Device and BaudRate address a serial instrument. Lines are
	// always 8N1.
	Device   string `cbor:"device,omitempty"`
	BaudRate int    `cbor:"baud_rate,omitempty"`
}

// ErrUnknownKind is returned for a Params value whose Kind is neither
// ethernet nor serial.
var ErrUnknownKind = errors.New("unknown transport kind")

// Validate reports whether p names a complete address for its kind.
func (p Params) Validate() error {
	switch p.Kind {
	case KindEthernet:
		if p.Host == "" {
			return errors.New("ethernet transport requires a host")
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("ethernet transport port %d out of range", p.Port)
		}
	case KindSerial:
		if p.Device == "" {
			return errors.New("serial transport requires a device")
		}
		if p.BaudRate < 0 {
			return fmt.Errorf("serial baud rate %d is negative", p.BaudRate)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

// String renders the address for logs.
func (p Params) String() string {
	switch p.Kind {
	case KindEthernet:
		return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	case KindSerial:
		rate := p.BaudRate
		if rate == 0 {
			rate = DefaultBaudRate
		}
		return fmt.Sprintf("%s@%d", p.Device, rate)
	default:
		return string(p.Kind)
	}
}
